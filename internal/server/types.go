package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/version"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

// Server exposes one alignment session over HTTP and WebSocket.
type Server struct {
	ctrl        *Controller
	cancel      context.CancelFunc
	log         *slog.Logger
	corsOrigin  string
	maxUploadMB int64
	maxFrameMB  int64
	timeout     time.Duration
	frameSeq    atomic.Uint64

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	MaxFrameMB  int64
	TimeoutSec  int
	Session     session.Options
	// NavSize and DetailSize are the initial panel sizes; clients resize them.
	NavSize    viewport.Size
	DetailSize viewport.Size
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}

// FitSummary describes a fitted alignment.
type FitSummary struct {
	Matrix      [3][3]float64 `json:"matrix"`
	RMSE        float64       `json:"rmse"`
	InlierCount int           `json:"inlier_count"`
	Inliers     []bool        `json:"inliers"`
}

// HoverStatus is the status-bar text for a pointer position.
type HoverStatus struct {
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// TransformResponse is returned by /transform with Accept: application/json.
type TransformResponse struct {
	From   string        `json:"from"`
	Matrix [3][3]float64 `json:"matrix"`
}

// NewServer creates a session with the configured panel sizes and starts its
// controller.
func NewServer(config Config) (*Server, error) {
	logger := config.Session.Logger
	if logger == nil {
		logger = slog.Default()
		config.Session.Logger = logger
	}
	sess := session.New(config.Session)
	for _, sd := range []session.Side{session.Left, session.Right} {
		if !config.NavSize.Empty() {
			if err := sess.SetPanelSize(sd, session.Navigation, config.NavSize.Width, config.NavSize.Height); err != nil {
				return nil, err
			}
		}
		if !config.DetailSize.Empty() {
			if err := sess.SetPanelSize(sd, session.Detail, config.DetailSize.Width, config.DetailSize.Height); err != nil {
				return nil, err
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewController(sess, logger)
	ctrl.Start(ctx)

	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		ctrl:        ctrl,
		cancel:      cancel,
		log:         logger,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: max(config.MaxUploadMB, 1),
		maxFrameMB:  max(config.MaxFrameMB, 1),
		timeout:     timeout,
		conns:       make(map[*websocket.Conn]struct{}),
	}, nil
}

// Controller returns the session controller.
func (s *Server) Controller() *Controller { return s.ctrl }

// Close closes open WebSocket connections and stops the controller.
func (s *Server) Close() error {
	s.mu.Lock()
	var err error
	for conn := range s.conns {
		err = multierr.Append(err, conn.Close())
		delete(s.conns, conn)
	}
	s.mu.Unlock()

	s.ctrl.Stop()
	s.cancel()
	return err
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("GET /state", s.corsMiddleware(s.stateHandler))
	mux.HandleFunc("POST /images/{side}", s.corsMiddleware(s.imageUploadHandler))
	mux.HandleFunc("GET /panels/{side}/{file}", s.corsMiddleware(s.panelHandler))
	mux.HandleFunc("GET /points", s.corsMiddleware(s.getPointsHandler))
	mux.HandleFunc("POST /points", s.corsMiddleware(s.postPointsHandler))
	mux.HandleFunc("GET /transform", s.corsMiddleware(s.transformHandler))
	mux.HandleFunc("GET /result", s.corsMiddleware(s.resultHandler))
	mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(http.ResponseWriter, *http.Request) {}))
	mux.Handle("GET /metrics", metricsHandler())
	mux.HandleFunc("GET /ws", s.controlWebSocketHandler)
	mux.HandleFunc("GET /feed/{side}", s.feedWebSocketHandler)
}

func (s *Server) healthResponse() HealthResponse {
	return HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
}
