package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"trail-link/internal/common/config"
	"trail-link/internal/common/logger"
	"trail-link/internal/contracts"
)

// Client is a resilient RabbitMQ connector with auto-reconnect and topology
// setup for the location change feed.
type Client struct {
	url    string
	log    *slog.Logger
	logCtx context.Context // detached from the caller so reconnect logging survives cancel

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu       sync.Mutex
	pubConfirms chan amqp.Confirmation

	closed    chan struct{}
	reconnect chan struct{}
}

// Connect establishes the connection and starts a background watcher that
// reconnects on failures.
func Connect(ctx context.Context, cfg config.RabbitMQ, log *slog.Logger) (*Client, error) {
	client := &Client{
		url:       fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.User, cfg.Password, cfg.Host, cfg.Port),
		log:       log,
		logCtx:    context.WithoutCancel(ctx),
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}

	// single initial attempt; further retries happen in the watcher
	if err := client.connectOnce(); err != nil {
		return nil, err
	}

	go client.watch()

	return client, nil
}

// Close stops the watcher and closes AMQP resources. Safe to call repeatedly.
func (c *Client) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	c.mu.Lock()
	if c.pubChan != nil {
		_ = c.pubChan.Close()
		c.pubChan = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.pubMu.Lock()
	if c.pubConfirms != nil {
		close(c.pubConfirms)
		c.pubConfirms = nil
	}
	c.pubMu.Unlock()
}

func (c *Client) connectOnce() error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		logger.Error(c.logCtx, c.log, "rabbitmq_dial_failed", "Failed to dial RabbitMQ", err)
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		logger.Error(c.logCtx, c.log, "rabbitmq_open_channel_failed", "Failed to open RabbitMQ channel", err)
		return fmt.Errorf("rabbitmq open channel: %w", err)
	}

	if err = declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		logger.Error(c.logCtx, c.log, "rabbitmq_declare_topology_failed", "Failed to declare RabbitMQ topology", err)
		return fmt.Errorf("rabbitmq declare topology: %w", err)
	}

	if err = ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		logger.Error(c.logCtx, c.log, "rabbitmq_enable_confirms_failed", "Failed to enable publisher confirms", err)
		return fmt.Errorf("rabbitmq enable confirms: %w", err)
	}

	c.pubMu.Lock()
	oldConfirms := c.pubConfirms
	c.pubConfirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	c.pubMu.Unlock()
	if oldConfirms != nil {
		close(oldConfirms)
	}

	c.mu.Lock()
	if c.pubChan != nil && !c.pubChan.IsClosed() {
		_ = c.pubChan.Close()
	}
	c.conn = conn
	c.pubChan = ch
	c.mu.Unlock()

	// either the connection or the publish channel closing triggers reconnect
	go func(conn *amqp.Connection, ch *amqp.Channel) {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}
		select {
		case c.reconnect <- struct{}{}:
		default:
		}
	}(conn, ch)

	logger.Info(c.logCtx, c.log, "rabbitmq_connected", "RabbitMQ connection established")

	return nil
}

// watch reconnects with capped exponential backoff until Close.
func (c *Client) watch() {
	backoff := time.Second
	for {
		select {
		case <-c.closed:
			return
		case <-c.reconnect:
			for {
				select {
				case <-c.closed:
					return
				default:
				}

				if err := c.connectOnce(); err == nil {
					backoff = time.Second
					logger.Info(c.logCtx, c.log, "rabbitmq_reconnected", "Reconnected to RabbitMQ")
					break
				} else {
					logger.Error(c.logCtx, c.log, "rabbitmq_reconnect_failed", "Failed to reconnect to RabbitMQ", err)
				}

				time.Sleep(backoff)
				if backoff < 30*time.Second {
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
				}
			}
		}
	}
}

func declareTopology(ch *amqp.Channel) error {
	// feed queues are per-subscription and declared by the consumers; only
	// the exchange is shared topology
	if err := ch.ExchangeDeclare(contracts.ExchangeLocationFeed, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", contracts.ExchangeLocationFeed, err)
	}
	return nil
}
