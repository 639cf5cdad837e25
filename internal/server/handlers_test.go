package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/pointsio"
	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/utils"
	"github.com/MeKo-Tech/kpalign/internal/view"
)

type snapshotBody struct {
	State     string `json:"state"`
	PairCount int    `json:"pair_count"`
	Left      struct {
		Loaded bool `json:"loaded"`
		Width  int  `json:"width"`
	} `json:"left"`
	Right struct {
		Loaded bool `json:"loaded"`
	} `json:"right"`
	Done bool `json:"done"`
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r).Decode(v))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"insufficient points", &fit.InsufficientPointsError{Class: fit.Affine, Required: 3, Got: 1}, http.StatusUnprocessableEntity, "insufficient_points"},
		{"degenerate", fmt.Errorf("align: %w", fit.ErrDegenerateConfiguration), http.StatusUnprocessableEntity, "degenerate_configuration"},
		{"no image", session.ErrNoImage, http.StatusConflict, "not_ready"},
		{"view not ready", view.ErrNotReady, http.StatusConflict, "not_ready"},
		{"ambiguous", session.ErrAmbiguousAlignment, http.StatusConflict, "alignment_state"},
		{"bad image", &utils.ImageProcessingError{Operation: "decode", Err: errors.New("x")}, http.StatusBadRequest, "invalid_image"},
		{"bad points", &pointsio.ParseError{Line: 1, Msg: "x"}, http.StatusBadRequest, "invalid_points"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "unavailable"},
		{"other", errors.New("other"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestConfig_Addr(t *testing.T) {
	assert.Equal(t, "localhost:8080", testConfig().Addr())
}

func TestHealthHandler(t *testing.T) {
	ts := newHTTPServer(t, newTestServer(t))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var health HealthResponse
	decodeJSON(t, resp.Body, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Time)
}

func TestImageUpload(t *testing.T) {
	s := newTestServer(t)
	ts := newHTTPServer(t, s)
	data := pngBytes(t, testImage())

	t.Run("raw body", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/images/left", "image/png", bytes.NewReader(data))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snap snapshotBody
		decodeJSON(t, resp.Body, &snap)
		assert.True(t, snap.Left.Loaded)
		assert.Equal(t, 200, snap.Left.Width)
		assert.False(t, snap.Right.Loaded)
	})

	t.Run("multipart", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("image", "right.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		resp, err := http.Post(ts.URL+"/images/right?keep=true", mw.FormDataContentType(), &body)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, loaded(s, session.Right))
	})

	t.Run("not an image", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/images/left", "image/png", strings.NewReader("garbage"))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var e ErrorResponse
		decodeJSON(t, resp.Body, &e)
		assert.Equal(t, "invalid_image", e.ErrorType)
	})

	t.Run("unknown side", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/images/middle", "image/png", bytes.NewReader(data))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("too large", func(t *testing.T) {
		big := make([]byte, 1<<20+4096)
		resp, err := http.Post(ts.URL+"/images/left", "image/png", bytes.NewReader(big))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestPanelHandler(t *testing.T) {
	s := newTestServer(t)
	ts := newHTTPServer(t, s)

	resp, err := http.Get(ts.URL + "/panels/left/nav.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no image yet")

	loadBoth(t, s)

	for file, size := range map[string][2]int{"nav.png": {100, 50}, "detail.png": {200, 100}} {
		t.Run(file, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/panels/right/" + file)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
			img, err := png.Decode(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, size[0], img.Bounds().Dx())
			assert.Equal(t, size[1], img.Bounds().Dy())
		})
	}

	resp, err = http.Get(ts.URL + "/panels/left/overview.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPointsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ts := newHTTPServer(t, s)

	body := "10 10 20 15\n100 10 110 15\n100 80 110 85\n10 80 20 85\n"
	resp, err := http.Post(ts.URL+"/points", "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	var snap snapshotBody
	decodeJSON(t, resp.Body, &snap)
	resp.Body.Close()
	assert.Equal(t, 4, snap.PairCount)

	resp, err = http.Get(ts.URL + "/points")
	require.NoError(t, err)
	defer resp.Body.Close()
	left, right, err := pointsio.ReadPoints(resp.Body)
	require.NoError(t, err)
	require.Len(t, left, 4)
	assert.Equal(t, 110.0, right[1].X)
	assert.Equal(t, 80.0, left[3].Y)

	resp2, err := http.Post(ts.URL+"/points", "text/plain", strings.NewReader("1 2 3\n"))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestTransformHandler(t *testing.T) {
	s := newTestServer(t)
	ts := newHTTPServer(t, s)

	resp, err := http.Get(ts.URL + "/transform")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := "10 10 20 15\n100 10 110 15\n100 80 110 85\n10 80 20 85\n"
	resp, err = http.Post(ts.URL+"/points", "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	t.Run("text", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/transform?from=left")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		h, err := pointsio.ReadTransform(resp.Body)
		require.NoError(t, err)
		assert.True(t, h.Normalize().ApproxEqual(homography.Translation(10, 5), 1e-6), "got %v", h)
	})

	t.Run("json", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/transform?from=right", nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var tr TransformResponse
		decodeJSON(t, resp.Body, &tr)
		assert.Equal(t, "right", tr.From)
		assert.InDelta(t, -10, tr.Matrix[0][2]/tr.Matrix[2][2], 1e-6)
		assert.InDelta(t, -5, tr.Matrix[1][2]/tr.Matrix[2][2], 1e-6)
	})

	t.Run("bad side", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/transform?from=up")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestResultHandler(t *testing.T) {
	s := newTestServer(t)
	ts := newHTTPServer(t, s)

	resp, err := http.Get(ts.URL + "/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, s.Controller().Do(context.Background(), func(sess *session.Session) error {
		sess.Cancel()
		return nil
	}))

	resp, err = http.Get(ts.URL + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res session.Result
	decodeJSON(t, resp.Body, &res)
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Pairs)
}

func TestStateHandler(t *testing.T) {
	s := newTestServer(t)
	ts := newHTTPServer(t, s)
	loadBoth(t, s)

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap snapshotBody
	decodeJSON(t, resp.Body, &snap)
	assert.Equal(t, "idle", snap.State)
	assert.True(t, snap.Left.Loaded)
	assert.True(t, snap.Right.Loaded)
	assert.False(t, snap.Done)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newHTTPServer(t, newTestServer(t))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kpalign_http_requests_total")
}
