package store

import (
	"context"
	"errors"

	"squall/internal/job"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// Store is the durable record store the controller depends on.
type Store interface {
	Get(ctx context.Context, key string) (*job.Record, error)
	// Save inserts a new record and returns its assigned key.
	Save(ctx context.Context, r *job.Record) (string, error)
	Update(ctx context.Context, key string, patch job.Patch) error
	Query(ctx context.Context, q *job.Query) ([]*job.Record, error)
}
