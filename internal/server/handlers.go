package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/pointsio"
	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/utils"
	"github.com/MeKo-Tech/kpalign/internal/view"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

// Addr returns the listen address host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// do submits fn to the controller with the request timeout.
func (s *Server) do(r *http.Request, fn func(*session.Session) error) error {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	return s.ctrl.Do(ctx, fn)
}

// statusFor maps domain errors onto HTTP status codes and error types.
func statusFor(err error) (int, string) {
	var (
		ipe *fit.InsufficientPointsError
		ime *utils.ImageProcessingError
		pe  *pointsio.ParseError
	)
	switch {
	case errors.As(err, &ipe):
		return http.StatusUnprocessableEntity, "insufficient_points"
	case errors.Is(err, fit.ErrDegenerateConfiguration), errors.Is(err, fit.ErrMismatchedPoints):
		return http.StatusUnprocessableEntity, "degenerate_configuration"
	case errors.Is(err, homography.ErrSingularMatrix), errors.Is(err, homography.ErrDegenerateProjection):
		return http.StatusUnprocessableEntity, "degenerate_transform"
	case errors.Is(err, session.ErrNoImage), errors.Is(err, view.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, session.ErrAmbiguousAlignment), errors.Is(err, session.ErrSyncUnavailable):
		return http.StatusConflict, "alignment_state"
	case errors.As(err, &ime), errors.Is(err, viewport.ErrInvalidImage):
		return http.StatusBadRequest, "invalid_image"
	case errors.As(err, &pe), errors.Is(err, pointsio.ErrMismatchedSides):
		return http.StatusBadRequest, "invalid_points"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrControllerStopped):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, status int, errorType string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, ErrorType: errorType})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, errorType := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.writeErrorResponse(w, err.Error(), status, errorType)
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.healthResponse())
}

// stateHandler returns the session snapshot.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	var snap session.Snapshot
	err := s.do(r, func(sess *session.Session) error {
		snap = sess.Snapshot()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) sideParam(w http.ResponseWriter, r *http.Request) (session.Side, bool) {
	sd, err := session.ParseSide(r.PathValue("side"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusNotFound, "invalid_side")
		return 0, false
	}
	return sd, true
}

// readUpload returns the image bytes from a multipart "image" field or from
// the raw request body.
func (s *Server) readUpload(r *http.Request) ([]byte, error) {
	limit := s.maxUploadMB * 1024 * 1024
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, fmt.Errorf("failed to parse form data: %w", err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, errors.New("no image file provided")
	}
	defer func() { _ = file.Close() }()
	return io.ReadAll(file)
}

// imageUploadHandler loads a new image on one side. With ?keep=true only the
// pixels are replaced and points and alignment are kept.
func (s *Server) imageUploadHandler(w http.ResponseWriter, r *http.Request) {
	sd, ok := s.sideParam(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)

	data, err := s.readUpload(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge, "too_large")
			return
		}
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest, "invalid_request")
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		s.writeError(w, err)
		return
	}

	keep, _ := strconv.ParseBool(r.URL.Query().Get("keep"))
	var snap session.Snapshot
	err = s.do(r, func(sess *session.Session) error {
		var err error
		if keep && sess.Loaded(sd) {
			err = sess.ReplaceImage(sd, img)
		} else {
			err = sess.LoadImage(sd, img)
		}
		snap = sess.Snapshot()
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// panelHandler renders one panel as PNG, e.g. /panels/left/nav.png.
func (s *Server) panelHandler(w http.ResponseWriter, r *http.Request) {
	sd, ok := s.sideParam(w, r)
	if !ok {
		return
	}
	name, found := strings.CutSuffix(r.PathValue("file"), ".png")
	if !found {
		s.writeErrorResponse(w, "panel must be requested as .png", http.StatusNotFound, "invalid_panel")
		return
	}
	panel, err := session.ParsePanel(name)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusNotFound, "invalid_panel")
		return
	}

	var img image.Image
	start := time.Now()
	err = s.do(r, func(sess *session.Session) error {
		out, err := sess.Render(sd, panel)
		img = out
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	renderDuration.WithLabelValues(panel.String()).Observe(time.Since(start).Seconds())

	var buf bytes.Buffer
	if err := utils.EncodePNG(&buf, img); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Debug("panel write failed", "error", err)
	}
}

// getPointsHandler returns the confirmed pairs in the points file format.
func (s *Server) getPointsHandler(w http.ResponseWriter, r *http.Request) {
	var left, right []r2.Point
	err := s.do(r, func(sess *session.Session) error {
		left, right = sess.Points(session.Left), sess.Points(session.Right)
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := pointsio.WritePoints(w, left, right); err != nil {
		s.log.Debug("points write failed", "error", err)
	}
}

// postPointsHandler replaces the confirmed pairs with a points file body.
func (s *Server) postPointsHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	left, right, err := pointsio.ReadPoints(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pairs := make([]session.Pair, len(left))
	for i := range left {
		pairs[i] = session.Pair{Left: left[i], Right: right[i]}
	}

	var snap session.Snapshot
	err = s.do(r, func(sess *session.Session) error {
		sess.SetPairs(pairs)
		snap = sess.Snapshot()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("points loaded", "pairs", len(pairs))
	s.writeJSON(w, http.StatusOK, snap)
}

// transformHandler fits a homography from ?from=left|right to the other side.
// It answers in the transform file format unless JSON is requested.
func (s *Server) transformHandler(w http.ResponseWriter, r *http.Request) {
	from := session.Left
	if v := r.URL.Query().Get("from"); v != "" {
		sd, err := session.ParseSide(v)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest, "invalid_side")
			return
		}
		from = sd
	}

	var h homography.Matrix
	err := s.do(r, func(sess *session.Session) error {
		var err error
		h, err = sess.Transform(from)
		return err
	})
	if err != nil {
		fitTotal.WithLabelValues(fit.Homography.String(), "error").Inc()
		s.writeError(w, err)
		return
	}
	fitTotal.WithLabelValues(fit.Homography.String(), "success").Inc()

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		s.writeJSON(w, http.StatusOK, TransformResponse{From: from.String(), Matrix: h.Rows()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := pointsio.WriteTransform(w, h); err != nil {
		s.log.Debug("transform write failed", "error", err)
	}
}

// resultHandler returns the session result once finished or cancelled.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	var (
		res  session.Result
		done bool
	)
	err := s.do(r, func(sess *session.Session) error {
		res, done = sess.Done()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !done {
		s.writeErrorResponse(w, "session has not finished", http.StatusConflict, "not_finished")
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
