package support

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/session"
)

// RegisterAlignmentSteps registers fitting and alignment steps.
func (tc *TestContext) RegisterAlignmentSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the confirmed pairs are:$`, tc.theConfirmedPairsAre)
	sc.Step(`^I select the "([^"]*)" transform class$`, tc.iSelectTheTransformClass)
	sc.Step(`^I align the (left|right) image onto the other$`, tc.iAlign)
	sc.Step(`^I restore the original alignment$`, tc.iRestoreTheOriginalAlignment)
	sc.Step(`^the alignment should succeed$`, tc.theAlignmentShouldSucceed)
	sc.Step(`^the alignment should fail with "([^"]*)"$`, tc.theAlignmentShouldFailWith)
	sc.Step(`^the fitted transform should map `+pointPattern+` to `+pointPattern+`$`, tc.theFittedTransformShouldMap)
	sc.Step(`^the (left|right) image should( not)? be aligned$`, tc.theImageShouldBeAligned)
	sc.Step(`^sync should be (on|off)$`, tc.syncShouldBe)
	sc.Step(`^the relative transform of the (left|right) side should be ambiguous$`, tc.theRelativeTransformShouldBeAmbiguous)
}

func (tc *TestContext) theConfirmedPairsAre(table *godog.Table) error {
	if len(table.Rows) < 2 {
		return fmt.Errorf("pairs table needs a header and at least one row")
	}
	var pairs []session.Pair
	for _, row := range table.Rows[1:] {
		if len(row.Cells) != 4 {
			return fmt.Errorf("expected 4 columns, got %d", len(row.Cells))
		}
		left, err := parsePoint(row.Cells[0].Value, row.Cells[1].Value)
		if err != nil {
			return err
		}
		right, err := parsePoint(row.Cells[2].Value, row.Cells[3].Value)
		if err != nil {
			return err
		}
		pairs = append(pairs, session.Pair{Left: left, Right: right})
	}
	tc.Session.SetPairs(pairs)
	return nil
}

func (tc *TestContext) iSelectTheTransformClass(name string) error {
	class, err := fit.ParseTransformClass(name)
	if err != nil {
		return err
	}
	return tc.Session.SetTransformClass(class)
}

func (tc *TestContext) iAlign(side string) error {
	sd, err := parseSide(side)
	if err != nil {
		return err
	}
	tc.LastFit, tc.LastError = tc.Session.Align(sd)
	return nil
}

func (tc *TestContext) iRestoreTheOriginalAlignment() error {
	return tc.Session.AlignOriginal()
}

func (tc *TestContext) theAlignmentShouldSucceed() error {
	if tc.LastError != nil {
		return fmt.Errorf("alignment failed: %w", tc.LastError)
	}
	return nil
}

func (tc *TestContext) theAlignmentShouldFailWith(msg string) error {
	if tc.LastError == nil {
		return fmt.Errorf("expected alignment to fail with %q", msg)
	}
	if !strings.Contains(tc.LastError.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, tc.LastError)
	}
	return nil
}

func (tc *TestContext) theFittedTransformShouldMap(x, y, wx, wy string) error {
	p, err := parsePoint(x, y)
	if err != nil {
		return err
	}
	want, err := parsePoint(wx, wy)
	if err != nil {
		return err
	}
	got, err := homography.Apply(tc.LastFit.Matrix, p)
	if err != nil {
		return err
	}
	return expectPoint("mapped point", got, want)
}

func (tc *TestContext) theImageShouldBeAligned(side, not string) error {
	sd, err := parseSide(side)
	if err != nil {
		return err
	}
	aligned := tc.Session.Snapshot().Left.Aligned
	if sd == session.Right {
		aligned = tc.Session.Snapshot().Right.Aligned
	}
	if want := not == ""; aligned != want {
		return fmt.Errorf("expected %s aligned=%v, got %v", side, want, aligned)
	}
	return nil
}

func (tc *TestContext) syncShouldBe(state string) error {
	if want := state == "on"; tc.Session.Sync() != want {
		return fmt.Errorf("expected sync %s", state)
	}
	return nil
}

func (tc *TestContext) theRelativeTransformShouldBeAmbiguous(side string) error {
	sd, err := parseSide(side)
	if err != nil {
		return err
	}
	if _, err := tc.Session.RelativeTransform(sd); !errors.Is(err, session.ErrAmbiguousAlignment) {
		return fmt.Errorf("expected ErrAmbiguousAlignment, got %v", err)
	}
	return nil
}
