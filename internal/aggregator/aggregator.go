// Package aggregator maintains the converged per-session view of every
// participant's live position from an initial snapshot plus an incremental
// change feed.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"trail-link/internal/common/contextx"
	"trail-link/internal/common/logger"
	"trail-link/internal/contracts"
	"trail-link/internal/domain/geo"
	"trail-link/internal/domain/track"
)

// Event is one reconciled change-feed entry. Insert and update carry the full
// replacement row; delete carries only the user key.
type Event struct {
	Type   string // contracts.EventInsert | EventUpdate | EventDelete
	UserID string
	Row    *track.ParticipantLocation // nil for delete
}

// Feed delivers events for exactly one session, in delivery order. Close
// tears the subscription down; Events is closed afterwards.
type Feed interface {
	Events() <-chan Event
	Close() error
}

// SnapshotFunc loads all current participant rows for a session.
type SnapshotFunc func(ctx context.Context, sessionID string) ([]track.ParticipantLocation, error)

// NicknameFunc resolves a display name for a user. Failures degrade to a
// placeholder, never to a dropped event.
type NicknameFunc func(ctx context.Context, userID string) (string, error)

// PublishFunc is the upstream location write exposed back to the publisher,
// so the local participant's own view updates through the same feed loop as
// everyone else's. The userID names the writer; the store upserts by
// (session, user).
type PublishFunc func(ctx context.Context, userID string, c geo.Coordinate, offRoute bool) error

// Aggregator owns the SessionLocationSet for one session. Events are applied
// by a single goroutine, so per-session application is sequential by
// construction; different sessions use independent aggregators.
type Aggregator struct {
	sessionID string
	snapshot  SnapshotFunc
	feed      Feed
	nickname  NicknameFunc
	publish   PublishFunc
	log       *slog.Logger
	onChange  func([]track.ParticipantLocation)

	mu     sync.RWMutex
	set    map[string]track.ParticipantLocation
	closed bool

	done chan struct{}
}

// New builds an aggregator for one session. onChange may be nil; when set it
// is invoked from the run loop after the snapshot and after every applied
// event, with a stable copy of the current view.
func New(
	sessionID string,
	snapshot SnapshotFunc,
	feed Feed,
	nickname NicknameFunc,
	publish PublishFunc,
	log *slog.Logger,
	onChange func([]track.ParticipantLocation),
) *Aggregator {
	return &Aggregator{
		sessionID: sessionID,
		snapshot:  snapshot,
		feed:      feed,
		nickname:  nickname,
		publish:   publish,
		log:       log,
		onChange:  onChange,
		set:       make(map[string]track.ParticipantLocation),
		done:      make(chan struct{}),
	}
}

// Run loads the snapshot and then applies feed events until the feed closes
// or ctx is cancelled. A snapshot failure leaves the set empty and is logged;
// consumers see zero participants rather than a hang.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.done)
	ctx = contextx.WithSessionID(ctx, a.sessionID)

	rows, err := a.snapshot(ctx, a.sessionID)
	if err != nil {
		logger.Error(ctx, a.log, "aggregator_snapshot_failed", "Failed to load location snapshot, starting empty", err)
	} else {
		a.mu.Lock()
		if !a.closed {
			for _, row := range rows {
				row.Nickname = row.DisplayName()
				a.set[row.UserID] = row
			}
		}
		a.mu.Unlock()
	}
	a.notify()

	logger.Info(ctx, a.log, "aggregator_started", "Realtime location aggregation started",
		"participants", len(rows))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.feed.Events():
			if !ok {
				return
			}
			if a.apply(ctx, ev) {
				a.notify()
			}
		}
	}
}

// apply reconciles one event into the set. Returns false when the aggregator
// is already closed and no mutation happened.
func (a *Aggregator) apply(ctx context.Context, ev Event) bool {
	switch ev.Type {
	case contracts.EventInsert, contracts.EventUpdate:
		if ev.Row == nil {
			logger.Error(ctx, a.log, "aggregator_bad_event", "Upsert event without a row", nil,
				"user_id", ev.UserID)
			return false
		}
		row := *ev.Row
		if row.Nickname == "" {
			row.Nickname = a.resolveNickname(ctx, row.UserID)
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return false
		}
		// events for unknown users are inserts; the full row replaces any
		// previous entry (last write wins)
		a.set[row.UserID] = row
		return true

	case contracts.EventDelete:
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return false
		}
		delete(a.set, ev.UserID)
		return true

	default:
		logger.Error(ctx, a.log, "aggregator_unknown_event", "Unknown feed event type ignored", nil,
			"event_type", ev.Type)
		return false
	}
}

// resolveNickname looks up the display name, falling back to a placeholder so
// position data is never lost to a failed join.
func (a *Aggregator) resolveNickname(ctx context.Context, userID string) string {
	if a.nickname == nil {
		return track.NicknamePlaceholder
	}
	name, err := a.nickname(ctx, userID)
	if err != nil || name == "" {
		logger.Debug(ctx, a.log, "aggregator_nickname_fallback", "Nickname lookup failed, using placeholder",
			"user_id", userID)
		return track.NicknamePlaceholder
	}
	return name
}

// Locations returns a stable copy of the current view, ordered by user ID.
func (a *Aggregator) Locations() []track.ParticipantLocation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]track.ParticipantLocation, 0, len(a.set))
	for _, p := range a.set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Publish writes a participant's position upstream. The writer's own view
// updates through the feed like every other participant's; there is no
// in-process echo.
func (a *Aggregator) Publish(ctx context.Context, userID string, c geo.Coordinate, offRoute bool) error {
	return a.publish(ctx, userID, c, offRoute)
}

// Close tears down the feed subscription. No state mutation happens
// afterwards, even if deliveries are still in flight.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	return a.feed.Close()
}

// Done is closed when the run loop has exited.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

func (a *Aggregator) notify() {
	if a.onChange == nil {
		return
	}
	a.onChange(a.Locations())
}
