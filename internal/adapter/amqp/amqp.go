// Package amqp maps topics onto RabbitMQ fanout exchanges. Each consumer
// owns a durable queue bound to its topic's exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"squall/internal/broker"
)

// channel is the subset of *amqp.Channel used by the adapter.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Handler receives one message body. A nil return acks the delivery.
type Handler func(ctx context.Context, body []byte) error

type Client struct {
	conn        *amqp.Connection
	openChannel func() (channel, error)

	mu  sync.Mutex
	pub channel
}

var (
	_ broker.Transport    = (*Client)(nil)
	_ broker.TopicManager = (*Client)(nil)
)

func Dial(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	c := newClient(func() (channel, error) { return conn.Channel() })
	c.conn = conn
	return c, nil
}

func newClient(open func() (channel, error)) *Client {
	return &Client{openChannel: open}
}

// publisher lazily opens the shared publishing channel. Channels are not
// safe for concurrent publishes, so callers hold c.mu.
func (c *Client) publisher() (channel, error) {
	if c.pub != nil {
		return c.pub, nil
	}
	ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}
	c.pub = ch
	return ch, nil
}

func (c *Client) Publish(ctx context.Context, topic string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.publisher()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	err = ch.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		// Drop the channel so the next publish opens a fresh one.
		_ = ch.Close()
		c.pub = nil
		return err
	}
	return nil
}

// TopicExists uses a passive declare on a throwaway channel; the broker
// closes the channel when the exchange is missing.
func (c *Client) TopicExists(_ context.Context, topic string) (bool, error) {
	ch, err := c.openChannel()
	if err != nil {
		return false, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclarePassive(topic, amqp.ExchangeFanout, true, false, false, false, nil)
	if err == nil {
		return true, nil
	}
	var aerr *amqp.Error
	if errors.As(err, &aerr) && aerr.Code == amqp.NotFound {
		return false, nil
	}
	return false, err
}

func (c *Client) CreateTopic(_ context.Context, topic string) error {
	ch, err := c.openChannel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	return ch.ExchangeDeclare(topic, amqp.ExchangeFanout, true, false, false, false, nil)
}

// Consume binds queue to the topic exchange and feeds deliveries to h
// until ctx is done or the channel closes. It returns once the
// subscription is established.
func (c *Client) Consume(ctx context.Context, topic, queue string, h Handler) error {
	ch, err := c.openChannel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(topic, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", topic, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", topic, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				deliver(ctx, d, h)
			}
		}
	}()
	return nil
}

// deliver acks on success. A failed delivery is requeued once and then
// dropped.
func deliver(ctx context.Context, d amqp.Delivery, h Handler) {
	if err := h(ctx, d.Body); err != nil {
		slog.WarnContext(ctx, "amqp delivery failed", "exchange", d.Exchange, "redelivered", d.Redelivered, "error", err)
		if nerr := d.Nack(false, !d.Redelivered); nerr != nil {
			slog.ErrorContext(ctx, "amqp nack failed", "error", nerr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		slog.ErrorContext(ctx, "amqp ack failed", "error", err)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.pub != nil {
		_ = c.pub.Close()
		c.pub = nil
	}
	c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
