package location

import (
	"context"
	"log/slog"
	"sync"

	"trail-link/internal/aggregator"
	"trail-link/internal/common/contextx"
	"trail-link/internal/common/logger"
	"trail-link/internal/domain/geo"
	"trail-link/internal/domain/track"
)

// FeedOpener opens a change-feed subscription scoped to one session.
type FeedOpener func(ctx context.Context, sessionID string) (aggregator.Feed, error)

// Manager hands out shared per-session aggregators. The first subscriber for
// a session opens the feed and starts the event loop; the last one leaving
// tears it down.
type Manager struct {
	svc      *Service
	openFeed FeedOpener
	log      *slog.Logger

	// Broadcast is invoked with the converged view after every change in a
	// session. Set once before the first Subscribe.
	Broadcast func(sessionID string, participants []track.ParticipantLocation)

	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

type sessionHandle struct {
	agg  *aggregator.Aggregator
	refs int
}

func NewManager(svc *Service, openFeed FeedOpener, log *slog.Logger) *Manager {
	return &Manager{
		svc:      svc,
		openFeed: openFeed,
		log:      log,
		sessions: make(map[string]*sessionHandle),
	}
}

// Subscription is one participant's handle on a session's live view. It
// exposes the converged participant set and the upstream publish function, so
// the subscriber's own position flows through the same feed loop as everyone
// else's.
type Subscription struct {
	SessionID string
	UserID    string

	mgr    *Manager
	handle *sessionHandle
	once   sync.Once
}

// Subscribe attaches a participant to a session's aggregator, creating it on
// first use.
func (m *Manager) Subscribe(ctx context.Context, sessionID, userID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.sessions[sessionID]
	if !ok {
		feed, err := m.openFeed(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		agg := aggregator.New(
			sessionID,
			m.svc.locations.ListBySession,
			feed,
			m.svc.users.Nickname,
			func(ctx context.Context, uid string, c geo.Coordinate, offRoute bool) error {
				return m.svc.PublishLocation(ctx, sessionID, uid, c, offRoute)
			},
			m.log,
			func(parts []track.ParticipantLocation) {
				if m.Broadcast != nil {
					m.Broadcast(sessionID, parts)
				}
			},
		)

		h = &sessionHandle{agg: agg}
		m.sessions[sessionID] = h

		// detached: the aggregator outlives the subscribing request
		go agg.Run(contextx.WithSessionID(context.WithoutCancel(ctx), sessionID))

		logger.Info(ctx, m.log, "session_aggregator_started", "Started aggregator for session",
			"session_id", sessionID)
	}
	h.refs++

	return &Subscription{SessionID: sessionID, UserID: userID, mgr: m, handle: h}, nil
}

// Locations returns the converged view for the subscribed session.
func (s *Subscription) Locations() []track.ParticipantLocation {
	return s.handle.agg.Locations()
}

// Publish writes the subscriber's own position upstream.
func (s *Subscription) Publish(ctx context.Context, c geo.Coordinate, offRoute bool) error {
	return s.handle.agg.Publish(ctx, s.UserID, c, offRoute)
}

// Close releases the subscription; the session aggregator is torn down when
// the last subscriber leaves. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mgr.release(s.SessionID, s.handle)
	})
}

func (m *Manager) release(sessionID string, h *sessionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h.refs--
	if h.refs > 0 {
		return
	}
	delete(m.sessions, sessionID)
	if err := h.agg.Close(); err != nil {
		logger.Error(context.Background(), m.log, "session_feed_close_failed", "Failed to close session feed", err,
			"session_id", sessionID)
	}
}
