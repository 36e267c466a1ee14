// Package brokertest provides an in-memory broker transport for tests.
package brokertest

import (
	"context"
	"sync"

	"squall/internal/broker"
)

type Message struct {
	Topic    string
	Body     []byte
	Envelope broker.Envelope
}

// Recorder captures published messages. It satisfies both broker.Transport
// and broker.TopicManager; every topic exists unless listed in Missing.
type Recorder struct {
	mu       sync.Mutex
	messages []Message

	// Err, when set, fails every publish.
	Err     error
	Missing map[string]bool
	Created []string
}

func (r *Recorder) Publish(_ context.Context, topic string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	env, _ := broker.Decode(body)
	r.messages = append(r.messages, Message{Topic: topic, Body: append([]byte(nil), body...), Envelope: env})
	return nil
}

func (r *Recorder) TopicExists(_ context.Context, topic string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.Missing[topic], nil
}

func (r *Recorder) CreateTopic(_ context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Missing, topic)
	r.Created = append(r.Created, topic)
	return nil
}

// Messages returns a snapshot of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// Broker wraps r in a broker.Broker.
func (r *Recorder) Broker(opts ...broker.Option) *broker.Broker {
	return broker.New(r, r, opts...)
}
