// Package controller drives a job record through its lifecycle: submission,
// dispatch, processing, error capture and timed retry.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"squall/internal/apperr"
	"squall/internal/broker"
	"squall/internal/job"
	"squall/internal/store"
)

// ErrWrongController is returned by Receive for envelopes addressed to a
// different job type.
var ErrWrongController = errors.New("message not meant for this controller")

const defaultScanConcurrency = 8

type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithScanConcurrency bounds how many records one retry scan handles at
// once.
func WithScanConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.scanLimit = n
		}
	}
}

type Controller struct {
	def       job.Definition
	store     store.Store
	broker    broker.Publisher
	now       func() time.Time
	log       *slog.Logger
	scanLimit int
}

func New(def job.Definition, st store.Store, pub broker.Publisher, opts ...Option) (*Controller, error) {
	def = def.WithDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if st == nil || pub == nil {
		return nil, fmt.Errorf("controller %s: store and broker are required", def.Name)
	}
	c := &Controller{
		def:       def,
		store:     st,
		broker:    pub,
		now:       time.Now,
		log:       slog.Default(),
		scanLimit: defaultScanConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("job", def.Name)
	return c, nil
}

func (c *Controller) Name() string               { return c.def.Name }
func (c *Controller) Topic() string              { return c.def.Topic }
func (c *Controller) Kind() string               { return c.def.Kind }
func (c *Controller) Definition() job.Definition { return c.def }

// SubmitOptions carries the optional delayed start.
type SubmitOptions struct {
	RunAt *time.Time
}

// Response is the synchronous result of a submission.
type Response struct {
	Status int
	Body   map[string]any
}

// Submit validates and enqueues a payload. An empty payload is treated as a
// connectivity probe and succeeds without side effects.
func (c *Controller) Submit(ctx context.Context, payload job.Payload, opts SubmitOptions) (*Response, error) {
	if len(payload) == 0 {
		return &Response{Status: http.StatusOK, Body: map[string]any{"data": payload}}, nil
	}

	if err := c.def.Hooks.RunValidate(ctx, payload); err != nil {
		c.log.InfoContext(ctx, "payload rejected", "error", err)
		return nil, apperr.Invalid(err)
	}

	if _, err := c.Enqueue(ctx, payload, opts.RunAt); err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Body: map[string]any{"data": payload}}, nil
}

// Enqueue persists a new record and, unless runAt is set, publishes it
// straight away. It returns the dispatch id, or "" for delayed jobs.
//
// A failed publish fails the call but leaves the record in place for the
// retry scan to pick up.
func (c *Controller) Enqueue(ctx context.Context, payload job.Payload, runAt *time.Time) (string, error) {
	args := &job.SaveArgs{Payload: payload}
	if err := c.def.Hooks.RunBeforeSave(ctx, args); err != nil {
		return "", err
	}

	now := c.now()
	rec := &job.Record{
		Kind:       c.def.Kind,
		Payload:    args.Payload,
		CreatedAt:  now,
		InstanceID: newInstanceID(),
	}
	if t, ok := args.Payload.CreatedAt(); ok {
		rec.CreatedAt = t
	}
	next := now
	if runAt != nil {
		next = *runAt
	}
	rec.NextAttempt = &next

	key, err := c.store.Save(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("save %s record: %w", c.def.Name, err)
	}
	args.Key = key
	log := c.log.With("key", key, "instance_id", rec.InstanceID)

	if runAt == nil {
		id, err := c.broker.Publish(ctx, c.def.Topic, broker.Envelope{Name: c.def.Name, Key: key})
		if err != nil {
			log.ErrorContext(ctx, "fast path dispatch failed, record left for retry scan", "error", err)
			return "", fmt.Errorf("dispatch %s: %w", key, err)
		}
		args.DispatchID = id
		log.InfoContext(ctx, "job enqueued", "dispatch_id", id)
	} else {
		log.InfoContext(ctx, "job scheduled", "run_at", runAt)
	}

	if err := c.def.Hooks.RunAfterSave(ctx, args); err != nil {
		return args.DispatchID, err
	}
	return args.DispatchID, nil
}

// Receive processes one broker delivery. Errors raised by the job's hooks
// are recorded on the record and never returned; only envelope and store
// failures are.
func (c *Controller) Receive(ctx context.Context, raw []byte) error {
	env, err := broker.Decode(raw)
	if err != nil {
		return err
	}
	if env.Name != c.def.Name {
		return fmt.Errorf("%w: message name %q, controller name %q", ErrWrongController, env.Name, c.def.Name)
	}

	rec, err := c.store.Get(ctx, env.Key)
	if err != nil {
		return fmt.Errorf("load %s: %w", env.Key, err)
	}
	log := c.log.With("key", env.Key, "instance_id", rec.InstanceID)

	if !rec.Pending() {
		log.DebugContext(ctx, "record is terminal, skipping",
			"processed", rec.ProcessedAt != nil, "failed", rec.FailedAt != nil)
		return nil
	}

	original := rec.Payload
	args := &job.ProcessArgs{Key: env.Key, Record: rec, Payload: rec.Payload}
	runErr := c.def.Hooks.RunBeforeProcess(ctx, args)

	attempt := c.now()
	if runErr == nil {
		if err := c.store.Update(ctx, env.Key, job.Patch{LastAttempt: &attempt}); err != nil {
			return fmt.Errorf("mark attempt on %s: %w", env.Key, err)
		}
	}
	// Set in memory either way: the final write carries it, and a failed
	// beforeProcess still counts as an attempt for backoff.
	rec.LastAttempt = &attempt

	if runErr == nil {
		runErr = c.def.Hooks.RunProcess(ctx, args)
	}

	rec.Payload = args.ResolvedPayload(original)

	if runErr == nil {
		done := c.now()
		rec.ProcessedAt = &done
		log.InfoContext(ctx, "job processed", "retries", rec.Retries)
	} else {
		rec.LastError = job.SerializeError(runErr)
		if rec.FirstError == "" {
			rec.FirstError = rec.LastError
		}
		log.ErrorContext(ctx, "job failed", "retries", rec.Retries, "error", runErr)
	}

	if err := c.store.Update(ctx, env.Key, job.FullPatch(rec)); err != nil {
		return fmt.Errorf("finalize %s: %w", env.Key, err)
	}

	if err := c.def.Hooks.RunAfterProcess(ctx, args); err != nil {
		log.WarnContext(ctx, "afterProcess hook failed", "error", err)
	}
	return nil
}

func newInstanceID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
