package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/testutil"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

var testImageSize = testutil.ImageSize{Width: 200, Height: 100}

func testConfig() Config {
	opts := session.DefaultOptions()
	opts.Logger = slog.New(slog.DiscardHandler)
	return Config{
		Host:        "localhost",
		Port:        8080,
		CORSOrigin:  "*",
		MaxUploadMB: 1,
		MaxFrameMB:  1,
		TimeoutSec:  5,
		Session:     opts,
		NavSize:     viewport.Size{Width: 100, Height: 50},
		DetailSize:  viewport.Size{Width: 200, Height: 100},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newHTTPServer serves s through the real route table.
func newHTTPServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func testImage() image.Image {
	return testutil.Checkerboard(testImageSize, 10, color.White, color.Black)
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func loadBoth(t *testing.T, s *Server) {
	t.Helper()
	err := s.Controller().Do(context.Background(), func(sess *session.Session) error {
		if err := sess.LoadImage(session.Left, testImage()); err != nil {
			return err
		}
		return sess.LoadImage(session.Right, testImage())
	})
	require.NoError(t, err)
}

func loaded(s *Server, sd session.Side) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var ok bool
	_ = s.Controller().Do(ctx, func(sess *session.Session) error {
		ok = sess.Loaded(sd)
		return nil
	})
	return ok
}
