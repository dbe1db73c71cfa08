package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"trail-link/internal/contracts"
)

// FeedPublisher broadcasts change-feed events on the location feed exchange.
type FeedPublisher struct {
	Client *Client
}

func NewFeedPublisher(client *Client) *FeedPublisher {
	return &FeedPublisher{Client: client}
}

// PublishEvent sends one feed event, routed by event type and session so
// per-session consumers only see their own feed.
func (p *FeedPublisher) PublishEvent(ctx context.Context, ev contracts.FeedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	return p.Client.publishMessage(ctx, contracts.ExchangeLocationFeed,
		contracts.RouteLocation(ev.EventType, ev.SessionID), body)
}

// publishMessage publishes with persistence and waits for the broker confirm.
func (c *Client) publishMessage(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.mu.RLock()
	ch := c.pubChan
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	confirms := c.pubConfirms

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
	case <-ctx.Done():
		// keep the confirm stream aligned: consume one confirm even though
		// the caller gets a timeout
		select {
		case confirm := <-confirms:
			if !confirm.Ack {
				return fmt.Errorf("rabbitmq: publish not acknowledged after timeout")
			}
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}

	return nil
}
