// Package location is the backend core of the live-position subsystem: it
// owns the store writes, emits change-feed events, and hands out per-session
// aggregators to the gateway.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trail-link/internal/common/contextx"
	"trail-link/internal/common/logger"
	"trail-link/internal/contracts"
	"trail-link/internal/domain/geo"
	"trail-link/internal/domain/track"
)

const producerName = "location-service"

// LocationStore is the persistence port for live positions.
type LocationStore interface {
	Upsert(ctx context.Context, sessionID, userID string, c geo.Coordinate, offRoute bool) (inserted bool, updatedAt time.Time, err error)
	Delete(ctx context.Context, sessionID, userID string) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]track.ParticipantLocation, error)
}

// RouteStore loads planned routes.
type RouteStore interface {
	Route(ctx context.Context, sessionID string) (geo.Polyline, error)
}

// UserStore resolves display names.
type UserStore interface {
	Nickname(ctx context.Context, userID string) (string, error)
}

// FeedPublisher broadcasts change-feed events.
type FeedPublisher interface {
	PublishEvent(ctx context.Context, ev contracts.FeedEvent) error
}

// Service implements the store-and-broadcast side of the location loop.
type Service struct {
	locations LocationStore
	routes    RouteStore
	users     UserStore
	feed      FeedPublisher
	log       *slog.Logger
}

func NewService(locations LocationStore, routes RouteStore, users UserStore, feed FeedPublisher, log *slog.Logger) *Service {
	return &Service{
		locations: locations,
		routes:    routes,
		users:     users,
		feed:      feed,
		log:       log,
	}
}

// PublishLocation upserts the participant's row and emits an insert or update
// feed event carrying the complete row. A feed publish failure is logged and
// swallowed: the row is already stored and the next publish repairs the view.
func (s *Service) PublishLocation(ctx context.Context, sessionID, userID string, c geo.Coordinate, offRoute bool) error {
	ctx = contextx.WithSessionID(ctx, sessionID)

	inserted, updatedAt, err := s.locations.Upsert(ctx, sessionID, userID, c, offRoute)
	if err != nil {
		return fmt.Errorf("store location: %w", err)
	}

	eventType := contracts.EventUpdate
	if inserted {
		eventType = contracts.EventInsert
	}

	nickname := s.lookupNickname(ctx, userID)

	ev := contracts.FeedEvent{
		EventType: eventType,
		SessionID: sessionID,
		UserID:    userID,
		Row: &contracts.LocationRow{
			SessionID: sessionID,
			UserID:    userID,
			Nickname:  nickname,
			Lat:       c.Lat,
			Lon:       c.Lon,
			OffRoute:  offRoute,
			UpdatedAt: updatedAt,
		},
		Envelope: contracts.Envelope{
			CorrelationID: uuid.NewString(),
			Producer:      producerName,
			SentAt:        time.Now().UTC(),
		},
	}
	if err := s.feed.PublishEvent(ctx, ev); err != nil {
		logger.Error(ctx, s.log, "feed_publish_failed", "Failed to broadcast location event", err,
			"user_id", userID, "event_type", eventType)
	}
	return nil
}

// RemoveParticipant deletes the participant's row and emits a delete event
// when a row actually existed.
func (s *Service) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	ctx = contextx.WithSessionID(ctx, sessionID)

	existed, err := s.locations.Delete(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if !existed {
		return nil
	}

	ev := contracts.FeedEvent{
		EventType: contracts.EventDelete,
		SessionID: sessionID,
		UserID:    userID,
		Envelope: contracts.Envelope{
			CorrelationID: uuid.NewString(),
			Producer:      producerName,
			SentAt:        time.Now().UTC(),
		},
	}
	if err := s.feed.PublishEvent(ctx, ev); err != nil {
		logger.Error(ctx, s.log, "feed_publish_failed", "Failed to broadcast delete event", err,
			"user_id", userID, "event_type", contracts.EventDelete)
	}

	logger.Info(ctx, s.log, "participant_removed", "Participant removed from session", "user_id", userID)
	return nil
}

// Route returns the planned polyline for a session; empty when none exists.
func (s *Service) Route(ctx context.Context, sessionID string) (geo.Polyline, error) {
	return s.routes.Route(ctx, sessionID)
}

// lookupNickname degrades to the placeholder on any failure; a missing name
// must never block position propagation.
func (s *Service) lookupNickname(ctx context.Context, userID string) string {
	name, err := s.users.Nickname(ctx, userID)
	if err != nil || name == "" {
		logger.Debug(ctx, s.log, "nickname_lookup_fallback", "Nickname lookup failed, using placeholder",
			"user_id", userID)
		return track.NicknamePlaceholder
	}
	return name
}
