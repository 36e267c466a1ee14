// Package relay is a sample job type that accepts any payload and hands
// it on to another job type.
package relay

import (
	"context"
	"fmt"
	"time"

	"squall/internal/job"
)

const Name = "relay"

// Enqueuer submits a payload to a named job type.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload job.Payload, runAt *time.Time) (string, error)
}

// Definition returns a relay forwarding every payload to target.
func Definition(base job.Definition, target string, to Enqueuer) job.Definition {
	def := base
	def.Name = Name
	def.Topic = ""
	def.Kind = ""
	def.Hooks = job.Hooks{
		Process: func(ctx context.Context, args *job.ProcessArgs) error {
			if _, err := to.Enqueue(ctx, target, args.Payload, nil); err != nil {
				return fmt.Errorf("relay to %s: %w", target, err)
			}
			return nil
		},
	}
	return def
}
