// Package echo is a sample job type: it requires an id and logs every
// payload it processes.
package echo

import (
	"context"
	"log/slog"
	"net/http"

	"squall/internal/apperr"
	"squall/internal/job"
)

const (
	Name  = "echo"
	Topic = "echoes"
)

// Definition returns the echo job type built on base, which carries the
// deployment-wide options.
func Definition(base job.Definition) job.Definition {
	def := base
	def.Name = Name
	def.Topic = Topic
	def.Kind = ""
	def.Hooks = job.Hooks{
		Validate: validate,
		Process:  process,
	}
	return def
}

func validate(_ context.Context, p job.Payload) error {
	if id, ok := p["id"]; !ok || id == nil || id == "" {
		return apperr.New(http.StatusBadRequest, "invalid", "The data should have an id!")
	}
	return nil
}

func process(ctx context.Context, args *job.ProcessArgs) error {
	slog.InfoContext(ctx, "processing data", "job", Name, "key", args.Key, "data", args.Payload)
	return nil
}
