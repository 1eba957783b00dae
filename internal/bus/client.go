package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange routing keys spec.md §6 defines. Kind-named keys (usage/status/
// log) are produced by monitor.Descriptor.Kind, so they aren't repeated
// here as constants.
const (
	RoutingKeyStartup      = "startup"
	RoutingKeyPing         = "ping"
	RoutingKeyAlert        = "alert"
	RoutingKeyTaskComplete = "task_complete"
)

// DeliveryHandler processes one inbound task body after it has already
// been acknowledged (spec.md §5, "ack before effect").
type DeliveryHandler func(body []byte)

// ClientConfig bundles everything needed to open and maintain the AMQP
// connection.
type ClientConfig struct {
	Host     string // broker hostname, typically == Credentials bootstrap's remote_host
	Port     int    // 5671 per spec.md §4.6
	UserID   string
	Password string
	HostID   string
	TLS      *tls.Config

	PingInterval  time.Duration
	DrainTimeout  time.Duration
	ProbeURL      string
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	MaxBackoffTries int
}

// Client owns the single long-lived AMQP connection to the broker: the
// consumer that drains inbound task deliveries and the publisher used for
// every outbound message (spec.md §4.6). Grounded on
// original_source/hiveary/network.py's NetworkController.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	stopping atomic.Bool
	handler  DeliveryHandler
}

// NewClient constructs a Client. Dial must be called before Publish or
// Drain will do anything useful.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("component", "bus.client")}
}

// InfoExchange is the primary exchange this user publishes info messages
// to (spec.md §6): agent.{user_id}.
func (c *Client) InfoExchange() string {
	return fmt.Sprintf("agent.%s", c.cfg.UserID)
}

// ReportsExchange is the alternate exchange live-stream publishes use
// (spec.md §6): agent.{user_id}.reports.
func (c *Client) ReportsExchange() string {
	return fmt.Sprintf("agent.%s.reports", c.cfg.UserID)
}

// TaskQueue is this host's exclusive inbound task queue name (spec.md §6).
func (c *Client) TaskQueue() string {
	return fmt.Sprintf("agent.%s.tasks.%s", c.cfg.UserID, c.cfg.HostID)
}

func (c *Client) amqpURL() string {
	u := url.URL{
		Scheme: "amqps",
		User:   url.UserPassword(c.cfg.UserID, c.cfg.Password),
		Host:   net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port)),
		Path:   "/",
	}
	return u.String()
}

// Dial opens the AMQP connection and channel. It does not start draining;
// call Drain separately so the caller controls which goroutine blocks.
func (c *Client) Dial() error {
	conn, err := amqp.DialTLS(c.amqpURL(), c.cfg.TLS)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	c.logger.Info("SSL-AMQP connection established", "user_id", c.cfg.UserID)
	return nil
}

// reconnect releases the current connection (best-effort, errors ignored
// per spec.md §4.6) and dials a new one, retrying with the jittered backoff
// until it succeeds or ctx is canceled.
func (c *Client) reconnect(ctx context.Context) error {
	c.release()

	b := newJitterBackoff(c.cfg.MaxBackoffTries)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.stopping.Load() {
			return fmt.Errorf("bus client stopping")
		}

		if err := c.Dial(); err == nil {
			c.logger.Info("reconnected to AMQP")
			return nil
		} else {
			c.logger.Error("reconnect attempt failed", "error", err)
		}

		delay := b.NextBackOff()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// release closes the channel and connection, ignoring errors, matching
// stop_amqp's best-effort release.
func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Stop marks the client as stopping: the drain loop will not restart
// itself and reconnect attempts abort, matching spec.md §5's cancellation
// model. It then releases the connection.
func (c *Client) Stop() {
	c.stopping.Store(true)
	c.release()
}

// Drain consumes c.TaskQueue() without auto-declaring it (spec.md §6: the
// queue is exclusive to this host and pre-provisioned by the control
// plane) and hands every delivery's body to handler after acking it
// immediately, per spec.md §5's ack-before-effect guarantee. It restarts
// itself on any error besides a deliberate Stop, until ctx is canceled.
func (c *Client) Drain(ctx context.Context, handler DeliveryHandler) error {
	c.handler = handler

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.stopping.Load() {
			return nil
		}

		if err := c.drainOnce(ctx); err != nil {
			if c.stopping.Load() || ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("AMQP drain error, reconnecting", "error", err)
			if err := c.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		if c.stopping.Load() {
			return nil
		}
		// deliveries channel closed without our own Stop: the broker or
		// connection dropped out from under us, reconnect and resume.
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) drainOnce(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no active channel")
	}

	deliveries, err := ch.Consume(c.TaskQueue(), "", false /* autoAck */, true /* exclusive */, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.TaskQueue(), err)
	}

	c.logger.Info("draining events from the server")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			_ = d.Ack(false)
			if c.handler != nil {
				c.handler(d.Body)
			}
		}
	}
}

// Publish sends message on routingKey over exchange, attaching the user ID
// and a UTC timestamp to the payload (spec.md §4.6). On a publish failure
// it logs, forces a reconnect, and retries once if retry is set; ping
// publishes must always pass retry=false.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, payload map[string]any, retry bool) error {
	return c.publish(ctx, exchange, routingKey, payload, retry, true)
}

func (c *Client) publish(ctx context.Context, exchange, routingKey string, payload map[string]any, retry, allowRetry bool) error {
	body, err := encodePayload(payload, c.cfg.UserID)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no active channel")
	}

	now := time.Now().UTC()
	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   now,
		UserId:      c.cfg.UserID,
	})
	if err == nil {
		return nil
	}

	c.logger.Error("error while publishing to AMQP", "routing_key", routingKey, "error", err)
	if rErr := c.reconnect(ctx); rErr != nil {
		return rErr
	}

	if retry && allowRetry {
		return c.publish(ctx, exchange, routingKey, payload, retry, false)
	}
	return err
}

// encodePayload marshals message as a JSON object, adding user_id and a UTC
// timestamp the way publish_info_message mutates a dict payload (spec.md
// §4.6, §6: "Each message carries the user_id and a UTC timestamp"); a nil
// or empty payload (the ping body) marshals to an object holding only those
// two fields.
func encodePayload(payload map[string]any, userID string) ([]byte, error) {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out["user_id"] = userID
	out["timestamp"] = float64(time.Now().UTC().UnixNano()) / 1e9
	return json.Marshal(out)
}

// Ping publishes an empty-payload keepalive (only user_id and timestamp are
// sent), never retried (spec.md §4.6).
func (c *Client) Ping(ctx context.Context) error {
	return c.publish(ctx, c.InfoExchange(), RoutingKeyPing, map[string]any{}, false, false)
}
