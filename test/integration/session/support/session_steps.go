package support

import (
	"fmt"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/kpalign/internal/session"
)

const pointPattern = `\(([-\d.]+), ([-\d.]+)\)`

// RegisterSessionSteps registers image loading, clicking and pairing steps.
func (tc *TestContext) RegisterSessionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^both images are (\d+)x(\d+) pixels$`, tc.bothImagesAre)
	sc.Step(`^the navigation panels are (\d+)x(\d+) and the detail panels are (\d+)x(\d+)$`, tc.panelsAre)
	sc.Step(`^I click the (left|right) (detail|nav) panel at `+pointPattern+`$`, tc.iClick(session.Primary))
	sc.Step(`^I right-click the (left|right) (detail|nav) panel at `+pointPattern+`$`, tc.iClick(session.Secondary))
	sc.Step(`^the click should be "([^"]*)"$`, tc.theClickShouldBe)
	sc.Step(`^the click should fail$`, tc.theClickShouldFail)
	sc.Step(`^the clicked raw point should be `+pointPattern+`$`, tc.theClickedRawPointShouldBe)
	sc.Step(`^the session state should be "([^"]*)"$`, tc.theSessionStateShouldBe)
	sc.Step(`^there should be (\d+) point pairs?$`, tc.thereShouldBePointPairs)
	sc.Step(`^pair (\d+) should join `+pointPattern+` and `+pointPattern+`$`, tc.pairShouldJoin)
	sc.Step(`^the (left|right) detail center should be `+pointPattern+`$`, tc.theDetailCenterShouldBe)
	sc.Step(`^I clear the last point$`, tc.iClearTheLastPoint)
	sc.Step(`^I clear all points$`, tc.iClearAllPoints)
	sc.Step(`^I scroll (\d+) notches on the (left|right) panel( fast)?$`, tc.iScroll)
	sc.Step(`^the (left|right) zoom label should be "([^"]*)"$`, tc.theZoomLabelShouldBe)
	sc.Step(`^I finish the session$`, tc.iFinishTheSession)
	sc.Step(`^I cancel the session$`, tc.iCancelTheSession)
	sc.Step(`^the result should hold (\d+) pairs?$`, tc.theResultShouldHold)
	sc.Step(`^the result should be cancelled$`, tc.theResultShouldBeCancelled)
}

func (tc *TestContext) bothImagesAre(w, h int) error {
	for _, sd := range []session.Side{session.Left, session.Right} {
		if err := tc.Session.LoadImage(sd, flatImage(w, h)); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) panelsAre(nw, nh, dw, dh int) error {
	for _, sd := range []session.Side{session.Left, session.Right} {
		if err := tc.Session.SetPanelSize(sd, session.Navigation, nw, nh); err != nil {
			return err
		}
		if err := tc.Session.SetPanelSize(sd, session.Detail, dw, dh); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) iClick(button session.Button) func(side, panel, x, y string) error {
	return func(side, panel, x, y string) error {
		sd, err := parseSide(side)
		if err != nil {
			return err
		}
		p, err := session.ParsePanel(panel)
		if err != nil {
			return err
		}
		pt, err := parsePoint(x, y)
		if err != nil {
			return err
		}
		tc.LastOutcome, tc.LastError = tc.Session.Click(sd, p, button, pt)
		return nil
	}
}

func (tc *TestContext) theClickShouldBe(kind string) error {
	if tc.LastError != nil {
		return fmt.Errorf("click failed: %w", tc.LastError)
	}
	if got := tc.LastOutcome.Kind.String(); got != kind {
		return fmt.Errorf("expected click outcome %q, got %q", kind, got)
	}
	return nil
}

func (tc *TestContext) theClickShouldFail() error {
	if tc.LastError == nil {
		return fmt.Errorf("expected click to fail, got %s", tc.LastOutcome.Kind)
	}
	return nil
}

func (tc *TestContext) theClickedRawPointShouldBe(x, y string) error {
	want, err := parsePoint(x, y)
	if err != nil {
		return err
	}
	return expectPoint("clicked raw point", tc.LastOutcome.Raw, want)
}

func (tc *TestContext) theSessionStateShouldBe(state string) error {
	if got := tc.Session.State().String(); got != state {
		return fmt.Errorf("expected state %q, got %q", state, got)
	}
	return nil
}

func (tc *TestContext) thereShouldBePointPairs(n int) error {
	if got := len(tc.Session.Pairs()); got != n {
		return fmt.Errorf("expected %d pairs, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) pairShouldJoin(i int, lx, ly, rx, ry string) error {
	pairs := tc.Session.Pairs()
	if i < 1 || i > len(pairs) {
		return fmt.Errorf("pair %d does not exist (%d pairs)", i, len(pairs))
	}
	left, err := parsePoint(lx, ly)
	if err != nil {
		return err
	}
	right, err := parsePoint(rx, ry)
	if err != nil {
		return err
	}
	if err := expectPoint("left point", pairs[i-1].Left, left); err != nil {
		return err
	}
	return expectPoint("right point", pairs[i-1].Right, right)
}

func (tc *TestContext) theDetailCenterShouldBe(side, x, y string) error {
	sd, err := parseSide(side)
	if err != nil {
		return err
	}
	want, err := parsePoint(x, y)
	if err != nil {
		return err
	}
	v, err := tc.Session.View(sd, session.Detail)
	if err != nil {
		return err
	}
	return expectPoint(side+" detail center", v.Viewport().Center(), want)
}

func (tc *TestContext) iClearTheLastPoint() error {
	tc.Session.ClearLast()
	return nil
}

func (tc *TestContext) iClearAllPoints() error {
	tc.Session.ClearAll()
	return nil
}

func (tc *TestContext) iScroll(notches int, side, fast string) error {
	sd, err := parseSide(side)
	if err != nil {
		return err
	}
	return tc.Session.Wheel(sd, notches, fast != "")
}

func (tc *TestContext) theZoomLabelShouldBe(side, label string) error {
	sd, err := parseSide(side)
	if err != nil {
		return err
	}
	if got := tc.Session.ZoomLabel(sd); got != label {
		return fmt.Errorf("expected zoom label %q, got %q", label, got)
	}
	return nil
}

func (tc *TestContext) iFinishTheSession() error {
	tc.LastResult = tc.Session.Finish()
	return nil
}

func (tc *TestContext) iCancelTheSession() error {
	tc.LastResult = tc.Session.Cancel()
	return nil
}

func (tc *TestContext) theResultShouldHold(n int) error {
	if tc.LastResult.Cancelled {
		return fmt.Errorf("result is cancelled")
	}
	if got := len(tc.LastResult.Pairs); got != n {
		return fmt.Errorf("expected %d result pairs, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) theResultShouldBeCancelled() error {
	if !tc.LastResult.Cancelled {
		return fmt.Errorf("expected a cancelled result")
	}
	if len(tc.LastResult.Pairs) != 0 {
		return fmt.Errorf("cancelled result holds %d pairs", len(tc.LastResult.Pairs))
	}
	return nil
}
