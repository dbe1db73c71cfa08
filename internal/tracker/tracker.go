// Package tracker decides when the local participant's position is pushed
// upstream, trading freshness against network and battery cost.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"trail-link/internal/common/logger"
	"trail-link/internal/domain/geo"
)

const (
	defaultVisibleInterval = 3 * time.Second
	defaultHiddenInterval  = 10 * time.Second
)

// PublishFunc is the upstream write. Upsert semantics keyed by
// (session, user): failures are logged and swallowed, the next tick or
// coordinate change retries implicitly.
type PublishFunc func(ctx context.Context, c geo.Coordinate, offRoute bool) error

// Options configures a Tracker. Without a session and user the tracker is
// inert: it consumes its inputs but never starts a timer or publishes.
type Options struct {
	SessionID       string
	UserID          string
	VisibleInterval time.Duration
	HiddenInterval  time.Duration
}

// Tracker republishes the last known coordinate on a heartbeat timer (3s in
// the foreground, 10s in the background), publishes immediately on every new
// coordinate, and edge-triggers an extra publish whenever the off-route flag
// flips. All state lives in the Run loop; the setters only hand events in.
type Tracker struct {
	publish PublishFunc
	log     *slog.Logger
	opts    Options

	positions  chan geo.Coordinate
	visibility chan bool
	offRoute   chan bool
	done       chan struct{}
}

// New builds a tracker around the given upstream write.
func New(publish PublishFunc, log *slog.Logger, opts Options) *Tracker {
	if opts.VisibleInterval <= 0 {
		opts.VisibleInterval = defaultVisibleInterval
	}
	if opts.HiddenInterval <= 0 {
		opts.HiddenInterval = defaultHiddenInterval
	}
	return &Tracker{
		publish:    publish,
		log:        log,
		opts:       opts,
		positions:  make(chan geo.Coordinate),
		visibility: make(chan bool),
		offRoute:   make(chan bool),
		done:       make(chan struct{}),
	}
}

// UpdatePosition hands a fresh coordinate to the run loop.
func (t *Tracker) UpdatePosition(c geo.Coordinate) {
	select {
	case t.positions <- c:
	case <-t.done:
	}
}

// SetVisible reports a foreground/background flip.
func (t *Tracker) SetVisible(visible bool) {
	select {
	case t.visibility <- visible:
	case <-t.done:
	}
}

// SetOffRoute reports the latest off-route classification.
func (t *Tracker) SetOffRoute(off bool) {
	select {
	case t.offRoute <- off:
	case <-t.done:
	}
}

// Run drives the publish state machine until ctx is cancelled. It must be
// called exactly once.
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.done)

	inert := t.opts.SessionID == "" || t.opts.UserID == ""
	if inert {
		logger.Info(ctx, t.log, "tracker_inert", "Tracker has no session or user, not publishing")
	}

	var (
		coord    geo.Coordinate
		hasCoord bool
		visible  = true
		off      bool
	)

	// heartbeat timer; armed on the first coordinate
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	rearm := func() {
		if !timer.Stop() {
			// a fired-but-unread timer leaves a value behind
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(t.interval(visible))
	}

	send := func(reason string) {
		if inert || !hasCoord {
			return
		}
		c, o := coord, off
		go func() {
			if err := t.publish(ctx, c, o); err != nil {
				logger.Error(ctx, t.log, "tracker_publish_failed", "Location publish failed", err,
					"reason", reason)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case c := <-t.positions:
			coord = c
			hasCoord = true
			// coordinate changes are never batched or dropped
			send("position")
			if !inert {
				rearm()
			}

		case v := <-t.visibility:
			if v == visible {
				continue
			}
			visible = v
			// restart at the new period without an extra publish
			if !inert && hasCoord {
				rearm()
			}

		case o := <-t.offRoute:
			if o == off {
				continue
			}
			off = o
			// edge-triggered, bypasses the timer
			send("off_route_change")

		case <-timer.C:
			send("heartbeat")
			if !inert && hasCoord {
				rearm()
			}
		}
	}
}

func (t *Tracker) interval(visible bool) time.Duration {
	if visible {
		return t.opts.VisibleInterval
	}
	return t.opts.HiddenInterval
}
