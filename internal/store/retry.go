package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"squall/internal/job"
)

// DefaultWriteRetries matches the bounded retry applied to every write.
const DefaultWriteRetries = 3

// Retrying wraps a Store and retries Save and Update on transient errors.
// Reads are passed through untouched.
type Retrying struct {
	Store
	retries    uint64
	newBackOff func() backoff.BackOff
}

type RetryOption func(*Retrying)

// WithBackOff replaces the exponential policy, mostly for tests.
func WithBackOff(fn func() backoff.BackOff) RetryOption {
	return func(r *Retrying) { r.newBackOff = fn }
}

func WithRetry(s Store, retries int, opts ...RetryOption) *Retrying {
	if retries < 0 {
		retries = 0
	}
	r := &Retrying{
		Store:   s,
		retries: uint64(retries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save assigns the key up front so a retried insert cannot create a
// second record.
func (r *Retrying) Save(ctx context.Context, rec *job.Record) (string, error) {
	if rec.Key == "" {
		rec.Key = uuid.NewString()
	}
	var key string
	err := r.do(ctx, "save", func() error {
		var err error
		key, err = r.Store.Save(ctx, rec)
		return err
	})
	return key, err
}

func (r *Retrying) Update(ctx context.Context, key string, patch job.Patch) error {
	return r.do(ctx, "update", func() error {
		return r.Store.Update(ctx, key, patch)
	})
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.retries), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "store write failed, retrying", "op", op, "error", err, "wait", wait)
	})
}
