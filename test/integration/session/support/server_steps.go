package support

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/kpalign/internal/server"
	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

// RegisterServerSteps registers steps that drive the session over HTTP.
func (tc *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the server is running$`, tc.theServerIsRunning)
	sc.Step(`^I upload a (\d+)x(\d+) image to the (left|right) side$`, tc.iUploadAnImage)
	sc.Step(`^I post the points:$`, tc.iPostThePoints)
	sc.Step(`^I send a GET request to "([^"]*)"$`, tc.iSendAGETRequest)
	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, tc.theResponseShouldContain)
	sc.Step(`^the response should contain '([^']*)'$`, tc.theResponseShouldContain)
	sc.Step(`^the response should be a (\d+)x(\d+) PNG$`, tc.theResponseShouldBeAPNG)
	sc.Step(`^the server session should have (\d+) point pairs?$`, tc.theServerSessionShouldHave)
}

func (tc *TestContext) theServerIsRunning() error {
	srv, err := server.NewServer(server.Config{
		Host:        "localhost",
		Port:        8080,
		CORSOrigin:  "*",
		MaxUploadMB: 8,
		MaxFrameMB:  8,
		TimeoutSec:  5,
		Session:     sessionOptions(),
		NavSize:     viewport.Size{Width: 100, Height: 50},
		DetailSize:  viewport.Size{Width: 200, Height: 100},
	})
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	tc.Server = srv
	tc.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (tc *TestContext) record(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.LastHTTPStatusCode = resp.StatusCode
	tc.LastHTTPResponse = string(body)
	tc.LastHTTPHeaders = make(map[string]string)
	for k := range resp.Header {
		tc.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (tc *TestContext) url(path string) (string, error) {
	if tc.HTTPServer == nil {
		return "", fmt.Errorf("server is not running")
	}
	return tc.HTTPServer.URL + path, nil
}

func (tc *TestContext) iUploadAnImage(w, h int, side string) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, flatImage(w, h)); err != nil {
		return err
	}
	u, err := tc.url("/images/" + side)
	if err != nil {
		return err
	}
	resp, err := http.Post(u, "image/png", &buf)
	if err != nil {
		return err
	}
	return tc.record(resp)
}

func (tc *TestContext) iPostThePoints(doc *godog.DocString) error {
	u, err := tc.url("/points")
	if err != nil {
		return err
	}
	resp, err := http.Post(u, "text/plain", strings.NewReader(doc.Content))
	if err != nil {
		return err
	}
	return tc.record(resp)
}

func (tc *TestContext) iSendAGETRequest(path string) error {
	u, err := tc.url(path)
	if err != nil {
		return err
	}
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	return tc.record(resp)
}

func (tc *TestContext) theResponseStatusShouldBe(status int) error {
	if tc.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.LastHTTPStatusCode, tc.LastHTTPResponse)
	}
	return nil
}

func (tc *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(tc.LastHTTPResponse, text) {
		return fmt.Errorf("expected response to contain %q, got %q", text, tc.LastHTTPResponse)
	}
	return nil
}

func (tc *TestContext) theResponseShouldBeAPNG(w, h int) error {
	if ct := tc.LastHTTPHeaders["Content-Type"]; ct != "image/png" {
		return fmt.Errorf("expected image/png, got %q", ct)
	}
	img, err := png.Decode(strings.NewReader(tc.LastHTTPResponse))
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		return fmt.Errorf("expected %dx%d, got %dx%d", w, h, b.Dx(), b.Dy())
	}
	return nil
}

func (tc *TestContext) theServerSessionShouldHave(n int) error {
	if tc.Server == nil {
		return fmt.Errorf("server is not running")
	}
	var got int
	err := tc.Server.Controller().Do(context.Background(), func(sess *session.Session) error {
		got = len(sess.Pairs())
		return nil
	})
	if err != nil {
		return err
	}
	if got != n {
		return fmt.Errorf("expected %d pairs on the server, got %d", n, got)
	}
	return nil
}
