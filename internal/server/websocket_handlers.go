package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/geo/r2"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/kpalign/internal/contrast"
	"github.com/MeKo-Tech/kpalign/internal/feed"
	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage represents a message sent over WebSocket.
type WebSocketMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// ControlRequest is a client event on the control channel. Which fields are
// read depends on Type.
type ControlRequest struct {
	Type    string  `json:"type"`
	ID      string  `json:"id,omitempty"`
	Side    string  `json:"side,omitempty"`
	Panel   string  `json:"panel,omitempty"`
	Button  string  `json:"button,omitempty"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Notches int     `json:"notches,omitempty"`
	Fast    bool    `json:"fast,omitempty"`
	Width   int     `json:"width,omitempty"`
	Height  int     `json:"height,omitempty"`
	Value   string  `json:"value,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
	Clip    float64 `json:"clip,omitempty"`
	Slider  *int    `json:"slider,omitempty"`

	// Points are raw [x, y] positions for "reference".
	Points [][2]float64 `json:"points,omitempty"`
}

// ControlReply is the payload of a successful control response.
type ControlReply struct {
	State   session.Snapshot `json:"state"`
	Outcome *session.Outcome `json:"outcome,omitempty"`
	Hover   *HoverStatus     `json:"hover,omitempty"`
	Fit     *FitSummary      `json:"fit,omitempty"`
	Result  *session.Result  `json:"result,omitempty"`
}

func parseButton(s string) (session.Button, error) {
	switch s {
	case "", "primary", "left":
		return session.Primary, nil
	case "secondary", "right":
		return session.Secondary, nil
	}
	return 0, fmt.Errorf("invalid button: %q (must be one of: primary, secondary)", s)
}

// keepAlive arms the read deadline and pings conn until ctx is done.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, channel string) (*websocket.Conn, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade connection to WebSocket", "channel", channel, "error", err)
		return nil, false
	}
	s.track(conn)
	websocketConnections.WithLabelValues(channel).Inc()
	s.log.Info("WebSocket connection established", "channel", channel, "remote_addr", r.RemoteAddr)
	return conn, true
}

func (s *Server) release(conn *websocket.Conn, channel string) {
	websocketConnections.WithLabelValues(channel).Dec()
	s.untrack(conn)
	_ = conn.Close()
}

func (s *Server) logReadError(err error, channel string) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
		s.log.Error("WebSocket error", "channel", channel, "error", err)
	}
}

// controlWebSocketHandler serves the event channel of a panel client. Every
// request gets exactly one reply carrying the request ID.
func (s *Server) controlWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.upgrade(w, r, "control")
	if !ok {
		return
	}
	defer s.release(conn, "control")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	keepAlive(ctx, conn)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.logReadError(err, "control")
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			s.sendWebSocketError(conn, "", "invalid_request", "control messages must be JSON text")
			continue
		}

		var req ControlRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
			continue
		}

		reqCtx, reqCancel := context.WithTimeout(ctx, s.timeout)
		reply, err := s.handleControl(reqCtx, req)
		reqCancel()
		if err != nil {
			_, errorType := statusFor(err)
			var re *requestError
			if errors.As(err, &re) {
				errorType = "invalid_request"
			}
			s.sendWebSocketError(conn, req.ID, errorType, err.Error())
			continue
		}
		s.sendWebSocketMessage(conn, WebSocketMessage{Type: req.Type, ID: req.ID, Payload: reply})
	}
}

// requestError marks a malformed control request.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{err: err} }

// requestScope reports whether a request type acts on one side and on one
// panel of that side.
func requestScope(typ string) (side, panel bool) {
	switch typ {
	case "click", "resize", "hover":
		return true, true
	case "wheel", "align", "contrast", "reference":
		return true, false
	}
	return false, false
}

// handleControl applies one control request on the controller goroutine.
func (s *Server) handleControl(ctx context.Context, req ControlRequest) (ControlReply, error) {
	var (
		sd    session.Side
		panel session.Panel
		err   error
	)
	needSide, needPanel := requestScope(req.Type)
	if needSide {
		if req.Side == "" {
			return ControlReply{}, badRequest(fmt.Errorf("%s requires a side", req.Type))
		}
		if sd, err = session.ParseSide(req.Side); err != nil {
			return ControlReply{}, badRequest(err)
		}
	}
	if needPanel {
		if req.Panel == "" {
			return ControlReply{}, badRequest(fmt.Errorf("%s requires a panel", req.Type))
		}
		if panel, err = session.ParsePanel(req.Panel); err != nil {
			return ControlReply{}, badRequest(err)
		}
	}

	var reply ControlReply
	var op func(*session.Session) error

	switch req.Type {
	case "click":
		button, err := parseButton(req.Button)
		if err != nil {
			return ControlReply{}, badRequest(err)
		}
		op = func(sess *session.Session) error {
			out, err := sess.Click(sd, panel, button, r2.Point{X: req.X, Y: req.Y})
			if err != nil {
				return err
			}
			reply.Outcome = &out
			return nil
		}
	case "wheel":
		op = func(sess *session.Session) error { return sess.Wheel(sd, req.Notches, req.Fast) }
	case "resize":
		op = func(sess *session.Session) error { return sess.SetPanelSize(sd, panel, req.Width, req.Height) }
	case "hover":
		op = func(sess *session.Session) error {
			text, visible := sess.Hover(sd, panel, r2.Point{X: req.X, Y: req.Y})
			reply.Hover = &HoverStatus{Text: text, Visible: visible}
			return nil
		}
	case "interpolation":
		interp, err := resample.ParseInterpolation(req.Value)
		if err != nil {
			return ControlReply{}, badRequest(err)
		}
		op = func(sess *session.Session) error { return sess.SetInterpolation(interp) }
	case "transform_class":
		class, err := fit.ParseTransformClass(req.Value)
		if err != nil {
			return ControlReply{}, badRequest(err)
		}
		op = func(sess *session.Session) error { return sess.SetTransformClass(class) }
	case "align":
		op = func(sess *session.Session) error {
			class := sess.TransformClass().String()
			res, err := sess.Align(sd)
			if err != nil {
				fitTotal.WithLabelValues(class, "error").Inc()
				return err
			}
			fitTotal.WithLabelValues(class, "success").Inc()
			fitRMSE.WithLabelValues(class).Observe(res.RMSE)
			reply.Fit = &FitSummary{
				Matrix:      res.Matrix.Rows(),
				RMSE:        res.RMSE,
				InlierCount: res.InlierCount,
				Inliers:     res.Inliers,
			}
			return nil
		}
	case "reference":
		pts := make([]r2.Point, len(req.Points))
		for i, p := range req.Points {
			pts[i] = r2.Point{X: p[0], Y: p[1]}
		}
		op = func(sess *session.Session) error { return sess.SetReferenceMarkers(sd, pts) }
	case "align_original":
		op = func(sess *session.Session) error { return sess.AlignOriginal() }
	case "sync":
		op = func(sess *session.Session) error { return sess.SetSync(req.Enabled) }
	case "clear_last":
		op = func(sess *session.Session) error { sess.ClearLast(); return nil }
	case "clear_all":
		op = func(sess *session.Session) error { sess.ClearAll(); return nil }
	case "contrast":
		clip := req.Clip
		if req.Slider != nil {
			clip = contrast.ClipFromSlider(*req.Slider)
		}
		op = func(sess *session.Session) error { return sess.SetContrast(sd, clip) }
	case "state":
		op = func(*session.Session) error { return nil }
	case "finish":
		op = func(sess *session.Session) error {
			res := sess.Finish()
			reply.Result = &res
			return nil
		}
	case "cancel":
		op = func(sess *session.Session) error {
			res := sess.Cancel()
			reply.Result = &res
			return nil
		}
	default:
		return ControlReply{}, badRequest(fmt.Errorf("unsupported request type: %q", req.Type))
	}

	err = s.ctrl.Do(ctx, func(sess *session.Session) error {
		if err := op(sess); err != nil {
			return err
		}
		reply.State = sess.Snapshot()
		return nil
	})
	if err != nil {
		return ControlReply{}, err
	}
	return reply, nil
}

// feedWebSocketHandler receives binary image frames for one side. Frames are
// queued latest-wins, so a slow decoder never backs up the socket.
func (s *Server) feedWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	sd, err := session.ParseSide(r.PathValue("side"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusNotFound, "invalid_side")
		return
	}
	conn, ok := s.upgrade(w, r, "feed")
	if !ok {
		return
	}
	defer s.release(conn, "feed")

	conn.SetReadLimit(s.maxFrameMB * 1024 * 1024)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	keepAlive(ctx, conn)

	mailbox := s.ctrl.Feed(sd)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.logReadError(err, "feed")
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.BinaryMessage {
			continue
		}
		feedFramesTotal.WithLabelValues(sd.String()).Inc()
		frame := feed.Frame{Data: data, Received: time.Now(), Seq: s.frameSeq.Add(1)}
		if mailbox.Put(frame) {
			feedFramesDropped.WithLabelValues(sd.String()).Inc()
		}
	}
}

// sendWebSocketMessage sends a message via WebSocket.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message via WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, id, errorType, message string) {
	s.sendWebSocketMessage(conn, WebSocketMessage{
		Type:    "error",
		ID:      id,
		Payload: ErrorResponse{Error: message, ErrorType: errorType},
	})
}
