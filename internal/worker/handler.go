// Package worker subscribes each controller to its broker topic and feeds
// deliveries into Receive.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"squall/internal/broker"
	"squall/internal/controller"
	"squall/internal/middleware"
	"squall/internal/store"
)

// Receiver is the part of a controller a subscription needs.
type Receiver interface {
	Name() string
	Topic() string
	Receive(ctx context.Context, raw []byte) error
}

var _ Receiver = (*controller.Controller)(nil)

// Channel is the consumer channel (or queue) name used for a job type.
func Channel(name string) string {
	return name + "Process"
}

// Handler adapts a Receiver to broker deliveries. Deliveries that can
// never succeed are acknowledged and dropped; everything else is returned
// so the broker redelivers.
type Handler struct {
	r Receiver
}

func NewHandler(r Receiver) *Handler {
	return &Handler{r: r}
}

func (h *Handler) Handle(ctx context.Context, body []byte) error {
	ctx = middleware.WithCorrelationID(ctx, uuid.New().String())
	log := slog.With("job", h.r.Name(), "topic", h.r.Topic())

	err := h.r.Receive(ctx, body)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broker.ErrMalformedEnvelope),
		errors.Is(err, controller.ErrWrongController),
		errors.Is(err, store.ErrNotFound):
		log.WarnContext(ctx, "dropping undeliverable message", "error", err)
		return nil
	default:
		log.ErrorContext(ctx, "delivery failed, leaving for redelivery", "error", err)
		return err
	}
}

// HandleMessage implements nsq.Handler.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	return h.Handle(context.Background(), m.Body)
}
