package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"trail-link/internal/aggregator"
	"trail-link/internal/common/contextx"
	"trail-link/internal/common/logger"
	"trail-link/internal/contracts"
	"trail-link/internal/domain/geo"
	"trail-link/internal/domain/track"
)

// SessionFeed is a change-feed subscription scoped to one session. It binds
// its own server-named queue to the location feed exchange, so events arrive
// in delivery order on a single consumer and nothing from other sessions
// leaks in. It implements aggregator.Feed.
type SessionFeed struct {
	sessionID string
	log       *slog.Logger

	ch     *amqp.Channel
	events chan aggregator.Event

	once sync.Once
	stop chan struct{}
}

// OpenSessionFeed declares and binds the per-session queue and starts the
// delivery loop.
func OpenSessionFeed(ctx context.Context, client *Client, sessionID string, log *slog.Logger) (*SessionFeed, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, fmt.Errorf("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	// exclusive + auto-delete: the queue lives exactly as long as this feed
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: declare feed queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, contracts.RouteLocationAll(sessionID), contracts.ExchangeLocationFeed, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: bind feed queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: consume feed queue: %w", err)
	}

	f := &SessionFeed{
		sessionID: sessionID,
		log:       log,
		ch:        ch,
		events:    make(chan aggregator.Event, 64),
		stop:      make(chan struct{}),
	}

	go f.pump(contextx.WithSessionID(context.WithoutCancel(ctx), sessionID), deliveries)

	return f, nil
}

// Events implements aggregator.Feed.
func (f *SessionFeed) Events() <-chan aggregator.Event {
	return f.events
}

// Close implements aggregator.Feed. After Close no further events are
// delivered; the events channel is closed once the pump drains out.
func (f *SessionFeed) Close() error {
	f.once.Do(func() { close(f.stop) })
	return f.ch.Close()
}

func (f *SessionFeed) pump(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(f.events)

	for {
		select {
		case <-f.stop:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			var fe contracts.FeedEvent
			if err := json.Unmarshal(d.Body, &fe); err != nil {
				logger.Error(ctx, f.log, "feed_event_unmarshal_failed", "Dropping malformed feed event", err)
				_ = d.Nack(false, false)
				continue
			}

			select {
			case f.events <- toEvent(fe):
				_ = d.Ack(false)
			case <-f.stop:
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

func toEvent(fe contracts.FeedEvent) aggregator.Event {
	ev := aggregator.Event{Type: fe.EventType, UserID: fe.UserID}
	if fe.Row != nil {
		ev.Row = &track.ParticipantLocation{
			UserID:     fe.Row.UserID,
			Nickname:   fe.Row.Nickname,
			Coordinate: geo.Coordinate{Lat: fe.Row.Lat, Lon: fe.Row.Lon},
			UpdatedAt:  fe.Row.UpdatedAt,
			OffRoute:   fe.Row.OffRoute,
		}
	}
	return ev
}
