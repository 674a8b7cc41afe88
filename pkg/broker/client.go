// Package broker wraps the RabbitMQ topic-exchange fabric every
// component publishes to and consumes from. Publishing is confirm-mode
// with mandatory routing, so a message that reaches no queue surfaces as
// ErrNotDelivered instead of vanishing.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/log"
)

// ErrNotDelivered flags a confirmed publish that was returned unrouted:
// no queue is bound to the routing key, usually because the consumer is
// not up yet.
var ErrNotDelivered = errors.New("message was not delivered to any queue")

// ErrNotConnected flags an operation attempted before ConnectUntilSuccessful.
var ErrNotConnected = errors.New("broker is not connected")

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Publisher is the outbound half of the client. Components take this
// interface so tests can substitute a recorder.
type Publisher interface {
	PublishConfirm(ctx context.Context, exchange, key string, body []byte) error
}

// Client is a single AMQP connection with one confirm-mode channel used
// for publishing and topology declarations. Consumers get dedicated
// channels so prefetch limits do not interfere.
type Client struct {
	url    string
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return
	reopen  func() (*amqp.Channel, chan amqp.Return, error)
}

// NewClient builds a disconnected client for the given AMQP URL.
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		logger: log.WithComponent("broker"),
	}
}

// ConnectUntilSuccessful dials the broker, retrying with doubling
// backoff until the context is cancelled.
func (c *Client) ConnectUntilSuccessful(ctx context.Context) error {
	delay := reconnectBaseDelay
	for attempt := 1; ; attempt++ {
		err := c.connect()
		if err == nil {
			c.logger.Info().Int("attempt", attempt).Msg("connected to broker")
			return nil
		}
		if attempt > 1 {
			reconnectsTotal.Inc()
		}
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("broker connection failed")
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	ch, returns, err := openConfirmChannel(conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.returns = returns
	c.reopen = func() (*amqp.Channel, chan amqp.Return, error) {
		return openConfirmChannel(conn)
	}
	c.mu.Unlock()
	return nil
}

// ensureChannelLocked replaces the confirm channel if a channel-level
// error closed it. AMQP closes only the offending channel on such
// errors, so the connection is still good and a fresh channel restores
// publishing without a reconnect.
func (c *Client) ensureChannelLocked() error {
	if c.ch != nil && !c.ch.IsClosed() {
		return nil
	}
	if c.reopen == nil {
		return ErrNotConnected
	}
	if c.ch != nil {
		c.ch.Close()
	}
	ch, returns, err := c.reopen()
	if err != nil {
		return fmt.Errorf("reopening channel: %w", err)
	}
	c.ch = ch
	c.returns = returns
	channelReopensTotal.Inc()
	return nil
}

// openConfirmChannel opens a channel in confirm mode with a buffered
// return listener. The buffer matters: the library completes the send of
// a basic.return before dispatching the ack that resolves the confirm,
// so draining the channel after a confirm always observes the bounce.
func openConfirmChannel(conn *amqp.Connection) (*amqp.Channel, chan amqp.Return, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("enabling confirm mode: %w", err)
	}
	returns := make(chan amqp.Return, 16)
	ch.NotifyReturn(returns)
	return ch, returns, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// DeclareExchange declares a durable exchange of the given kind.
func (c *Client) DeclareExchange(name, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureChannelLocked(); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", name, err)
	}
	return nil
}

// DeclareQueue declares a durable queue and returns its current depth.
func (c *Client) DeclareQueue(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureChannelLocked(); err != nil {
		return 0, err
	}
	q, err := c.ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("declaring queue %s: %w", name, err)
	}
	return q.Messages, nil
}

// Bind binds a queue to an exchange under a routing key pattern.
func (c *Client) Bind(queue, exchange, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureChannelLocked(); err != nil {
		return err
	}
	if err := c.ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return fmt.Errorf("binding %s to %s under %s: %w", queue, exchange, key, err)
	}
	return nil
}

// PublishConfirm publishes a persistent JSON message and waits for the
// broker's confirm. A message returned unrouted yields ErrNotDelivered.
// Publishes are serialized, so a drained return always belongs to the
// publish that just confirmed. A publish that fails because a
// channel-level error closed the channel is retried once on a fresh
// channel.
func (c *Client) PublishConfirm(ctx context.Context, exchange, key string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureChannelLocked(); err != nil {
		return err
	}

	err := c.publishLocked(ctx, exchange, key, body)
	if errors.Is(err, amqp.ErrClosed) {
		if rerr := c.ensureChannelLocked(); rerr != nil {
			return rerr
		}
		return c.publishLocked(ctx, exchange, key, body)
	}
	return err
}

func (c *Client) publishLocked(ctx context.Context, exchange, key string, body []byte) error {
	// Discard bounces left over from earlier failed rounds.
	c.drainReturns()

	conf, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, true, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		publishedTotal.WithLabelValues(exchange, "error").Inc()
		return fmt.Errorf("publishing to %s under %s: %w", exchange, key, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		publishedTotal.WithLabelValues(exchange, "error").Inc()
		return fmt.Errorf("awaiting confirm from %s: %w", exchange, err)
	}
	if !acked {
		publishedTotal.WithLabelValues(exchange, "nacked").Inc()
		return fmt.Errorf("publish to %s under %s was nacked", exchange, key)
	}
	if c.drainReturns() {
		publishedTotal.WithLabelValues(exchange, "returned").Inc()
		return fmt.Errorf("publish to %s under %s: %w", exchange, key, ErrNotDelivered)
	}
	publishedTotal.WithLabelValues(exchange, "ok").Inc()
	return nil
}

func (c *Client) drainReturns() bool {
	bounced := false
	for {
		select {
		case _, ok := <-c.returns:
			if !ok {
				return bounced
			}
			bounced = true
		default:
			return bounced
		}
	}
}

// Consume opens a dedicated channel on the queue and feeds deliveries to
// the handler until the context is cancelled or the connection drops.
// Handlers own acknowledgement.
func (c *Client) Consume(ctx context.Context, queue string, prefetch int, handler func(amqp.Delivery)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consumer channel for %s: %w", queue, err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("setting prefetch on %s: %w", queue, err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming from %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer on %s: %w", queue, amqp.ErrClosed)
			}
			consumedTotal.WithLabelValues(queue).Inc()
			handler(d)
		}
	}
}

// Sleep waits for the duration or the context, whichever ends first.
// Workers use it between rounds so shutdown is never blocked on a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
