package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqpadapter "squall/internal/adapter/amqp"
	nsqadapter "squall/internal/adapter/nsq"
	"squall/internal/controller"
)

// Subscriber attaches one Handler to the broker. The returned func stops
// the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, channel string, h *Handler) (stop func(), err error)
}

type NSQSubscriber struct {
	Config nsqadapter.ConsumerConfig
}

func (s NSQSubscriber) Subscribe(_ context.Context, topic, channel string, h *Handler) (func(), error) {
	c, err := nsqadapter.NewConsumer(topic, channel, s.Config, h)
	if err != nil {
		return nil, err
	}
	return func() {
		c.Stop()
		<-c.StopChan
	}, nil
}

// queueConsumer is satisfied by *amqp.Client.
type queueConsumer interface {
	Consume(ctx context.Context, topic, queue string, h amqpadapter.Handler) error
}

type AMQPSubscriber struct {
	Client queueConsumer
}

func (s AMQPSubscriber) Subscribe(ctx context.Context, topic, channel string, h *Handler) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	if err := s.Client.Consume(ctx, topic, channel, h.Handle); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// Start subscribes every controller in set. On error the subscriptions
// already made are stopped.
func Start(ctx context.Context, sub Subscriber, set *controller.Set) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	for _, c := range set.All() {
		stop, err := sub.Subscribe(ctx, c.Topic(), Channel(c.Name()), NewHandler(c))
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("subscribe %s: %w", c.Name(), err)
		}
		slog.Info("worker subscribed", "job", c.Name(), "topic", c.Topic(), "channel", Channel(c.Name()))
		stops = append(stops, stop)
	}
	if len(stops) == 0 {
		return nil, errors.New("worker: no job types registered")
	}
	return stopAll, nil
}
