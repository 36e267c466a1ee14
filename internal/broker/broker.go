package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrTopicNotFound = errors.New("topic does not exist")

// Transport delivers an encoded message body to a topic.
type Transport interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// TopicManager answers and creates topics on the underlying broker.
type TopicManager interface {
	TopicExists(ctx context.Context, topic string) (bool, error)
	CreateTopic(ctx context.Context, topic string) error
}

// Publisher is what the controller needs from a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) (string, error)
}

type Option func(*Broker)

// WithAutoCreate creates a missing topic instead of failing the publish.
func WithAutoCreate(enabled bool) Option {
	return func(b *Broker) { b.autoCreate = enabled }
}

// WithIDGenerator replaces the dispatch id source.
func WithIDGenerator(fn func() string) Option {
	return func(b *Broker) { b.newID = fn }
}

// Broker adds the envelope codec and the topic-must-exist precondition on
// top of a Transport.
type Broker struct {
	transport  Transport
	topics     TopicManager
	autoCreate bool
	newID      func() string

	mu    sync.RWMutex
	known map[string]bool
}

var _ Publisher = (*Broker)(nil)

func New(t Transport, tm TopicManager, opts ...Option) *Broker {
	b := &Broker{
		transport: t,
		topics:    tm,
		newID:     uuid.NewString,
		known:     make(map[string]bool),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish encodes env and sends it to topic, returning a dispatch id.
func (b *Broker) Publish(ctx context.Context, topic string, env Envelope) (string, error) {
	if err := b.EnsureTopic(ctx, topic); err != nil {
		return "", err
	}
	body, err := Encode(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.transport.Publish(ctx, topic, body); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	id := b.newID()
	slog.DebugContext(ctx, "envelope published", "topic", topic, "job", env.Name, "key", env.Key, "dispatch_id", id)
	return id, nil
}

// EnsureTopic checks the topic once per process. A topic seen to exist is
// not checked again.
func (b *Broker) EnsureTopic(ctx context.Context, topic string) error {
	b.mu.RLock()
	ok := b.known[topic]
	b.mu.RUnlock()
	if ok || b.topics == nil {
		return nil
	}

	exists, err := b.topics.TopicExists(ctx, topic)
	if err != nil {
		return fmt.Errorf("check topic %s: %w", topic, err)
	}
	if !exists {
		if !b.autoCreate {
			return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
		}
		if err := b.topics.CreateTopic(ctx, topic); err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		slog.InfoContext(ctx, "topic created", "topic", topic)
	}

	b.mu.Lock()
	b.known[topic] = true
	b.mu.Unlock()
	return nil
}
