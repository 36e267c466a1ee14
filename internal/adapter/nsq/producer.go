package nsq

import (
	"context"

	"github.com/nsqio/go-nsq"

	"squall/internal/broker"
)

// publisher is the subset of *nsq.Producer used here.
type publisher interface {
	Publish(topic string, body []byte) error
}

// Transport publishes envelopes through an nsqd producer.
type Transport struct {
	producer publisher
}

var _ broker.Transport = (*Transport)(nil)

func NewTransport(p publisher) *Transport {
	return &Transport{producer: p}
}

// NewProducer connects a producer to the nsqd TCP address.
func NewProducer(addr string) (*nsq.Producer, error) {
	return nsq.NewProducer(addr, nsq.NewConfig())
}

func (t *Transport) Publish(ctx context.Context, topic string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.producer.Publish(topic, body)
}
