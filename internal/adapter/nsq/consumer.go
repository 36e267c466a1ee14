package nsq

import (
	"errors"
	"fmt"

	"github.com/nsqio/go-nsq"
)

// ConsumerConfig selects where a consumer discovers producers. Lookupd
// wins when both are set.
type ConsumerConfig struct {
	Lookupd     string
	NSQD        string
	MaxAttempts uint16
}

// NewConsumer connects handler to topic on channel.
func NewConsumer(topic, channel string, cfg ConsumerConfig, handler nsq.Handler) (*nsq.Consumer, error) {
	if cfg.Lookupd == "" && cfg.NSQD == "" {
		return nil, errors.New("nsq consumer: no nsqlookupd or nsqd address")
	}
	nc := nsq.NewConfig()
	if cfg.MaxAttempts > 0 {
		nc.MaxAttempts = cfg.MaxAttempts
	}
	c, err := nsq.NewConsumer(topic, channel, nc)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer %s/%s: %w", topic, channel, err)
	}
	c.SetLoggerLevel(nsq.LogLevelWarning)
	c.AddHandler(handler)

	if cfg.Lookupd != "" {
		err = c.ConnectToNSQLookupd(cfg.Lookupd)
	} else {
		err = c.ConnectToNSQD(cfg.NSQD)
	}
	if err != nil {
		c.Stop()
		return nil, fmt.Errorf("nsq consumer %s/%s: %w", topic, channel, err)
	}
	return c, nil
}
