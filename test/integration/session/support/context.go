// Package support holds the step definitions of the session feature suite.
package support

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"net/http/httptest"
	"strconv"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/server"
	"github.com/MeKo-Tech/kpalign/internal/session"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	Session *session.Session

	LastOutcome session.Outcome
	LastError   error
	LastFit     fit.Result
	LastResult  session.Result

	// Server state
	Server     *server.Server
	HTTPServer *httptest.Server

	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext returns a context with an empty session.
func NewTestContext() *TestContext {
	return &TestContext{Session: session.New(sessionOptions())}
}

func sessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.Logger = slog.New(slog.DiscardHandler)
	opts.Interpolation = resample.Nearest
	return opts
}

// Cleanup stops any server started by the scenario.
func (tc *TestContext) Cleanup() error {
	if tc.HTTPServer != nil {
		tc.HTTPServer.Close()
		tc.HTTPServer = nil
	}
	if tc.Server != nil {
		err := tc.Server.Close()
		tc.Server = nil
		return err
	}
	return nil
}

func flatImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.NRGBA{R: 90, G: 90, B: 90, A: 255}}, image.Point{}, draw.Src)
	return img
}

func parseSide(s string) (session.Side, error) {
	return session.ParseSide(s)
}

func parsePoint(x, y string) (r2.Point, error) {
	px, err := strconv.ParseFloat(x, 64)
	if err != nil {
		return r2.Point{}, fmt.Errorf("invalid x %q: %w", x, err)
	}
	py, err := strconv.ParseFloat(y, 64)
	if err != nil {
		return r2.Point{}, fmt.Errorf("invalid y %q: %w", y, err)
	}
	return r2.Point{X: px, Y: py}, nil
}

func near(a, b float64) bool {
	const tol = 1e-6
	d := a - b
	return d < tol && d > -tol
}

func expectPoint(what string, got, want r2.Point) error {
	if !near(got.X, want.X) || !near(got.Y, want.Y) {
		return fmt.Errorf("%s: expected (%v, %v), got (%v, %v)", what, want.X, want.Y, got.X, got.Y)
	}
	return nil
}
