package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/kpalign/internal/feed"
	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/utils"
)

// ErrControllerStopped is returned for submissions after Stop.
var ErrControllerStopped = errors.New("controller stopped")

type command struct {
	fn    func(*session.Session) error
	reply chan error
}

// Controller owns a session and serializes all access to it on a single
// goroutine. Live frames are taken from one mailbox per side, so only the
// newest frame of each side is decoded.
type Controller struct {
	sess  *session.Session
	log   *slog.Logger
	cmds  chan command
	feeds [2]*feed.Mailbox[feed.Frame]

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewController wraps sess. Call Start before submitting work.
func NewController(sess *session.Session, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		sess:  sess,
		log:   log,
		cmds:  make(chan command),
		feeds: [2]*feed.Mailbox[feed.Frame]{feed.NewMailbox[feed.Frame](), feed.NewMailbox[feed.Frame]()},
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start runs the control loop until ctx is done or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	if c.started.CompareAndSwap(false, true) {
		go c.run(ctx)
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case cmd := <-c.cmds:
			cmd.reply <- cmd.fn(c.sess)
		case <-c.feeds[session.Left].Ready():
			c.applyFrame(session.Left)
		case <-c.feeds[session.Right].Ready():
			c.applyFrame(session.Right)
		}
	}
}

// Do runs fn on the control goroutine and waits for its result. If ctx ends
// after fn was accepted, fn still runs but its result is discarded.
func (c *Controller) Do(ctx context.Context, fn func(*session.Session) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed returns the frame mailbox of side sd.
func (c *Controller) Feed(sd session.Side) *feed.Mailbox[feed.Frame] {
	return c.feeds[sd]
}

func (c *Controller) applyFrame(sd session.Side) {
	frame, ok := c.feeds[sd].Take()
	if !ok {
		return
	}
	img, err := utils.DecodeImageBytes(frame.Data)
	if err != nil {
		feedFramesApplied.WithLabelValues(sd.String(), "decode_error").Inc()
		c.log.Warn("feed frame rejected", "side", sd.String(), "seq", frame.Seq, "error", err)
		return
	}
	if c.sess.Loaded(sd) {
		err = c.sess.ReplaceImage(sd, img)
	} else {
		err = c.sess.LoadImage(sd, img)
	}
	if err != nil {
		feedFramesApplied.WithLabelValues(sd.String(), "error").Inc()
		c.log.Warn("feed frame not applied", "side", sd.String(), "seq", frame.Seq, "error", err)
		return
	}
	feedFramesApplied.WithLabelValues(sd.String(), "ok").Inc()
	c.log.Debug("feed frame applied", "side", sd.String(), "seq", frame.Seq)
}

// Stop ends the control loop and waits for it to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started.Load() {
		<-c.done
	}
}
