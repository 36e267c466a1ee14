package controller

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"squall/internal/broker"
	"squall/internal/job"
)

// Outcome reports what QueueRetry did to one record.
type Outcome struct {
	Rescheduled bool
	Failed      bool
	Dispatched  bool
}

// ScanResult tallies one retry scan.
type ScanResult struct {
	Scanned     int `json:"scanned"`
	Skipped     int `json:"skipped"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
	Dispatched  int `json:"dispatched"`
}

// Retry runs one scan over pending records whose next attempt is due.
// Records still inside their processing window are left alone. Records are
// handled concurrently; the first error is returned after every record has
// been visited.
func (c *Controller) Retry(ctx context.Context) (ScanResult, error) {
	now := c.now()
	q := job.NewQuery(c.def.Kind).
		IsNull(job.FieldProcessedAt).
		IsNull(job.FieldFailedAt).
		Where(job.FieldNextAttempt, job.OpLte, now)

	records, err := c.store.Query(ctx, q)
	if err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{Scanned: len(records)}
	var skipped, rescheduled, failed, dispatched atomic.Int64
	window := now.Add(-c.def.MaxProcessingTime)

	var g errgroup.Group
	g.SetLimit(c.scanLimit)
	for _, rec := range records {
		if rec.LastAttempt != nil && rec.LastAttempt.After(window) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			out, err := c.QueueRetry(ctx, rec)
			if out.Rescheduled {
				rescheduled.Add(1)
			}
			if out.Failed {
				failed.Add(1)
			}
			if out.Dispatched {
				dispatched.Add(1)
			}
			if err != nil {
				c.log.ErrorContext(ctx, "queue retry failed", "key", rec.Key, "error", err)
			}
			return err
		})
	}
	err = g.Wait()

	res.Skipped = int(skipped.Load())
	res.Rescheduled = int(rescheduled.Load())
	res.Failed = int(failed.Load())
	res.Dispatched = int(dispatched.Load())
	c.log.InfoContext(ctx, "retry scan complete",
		"scanned", res.Scanned, "skipped", res.Skipped, "rescheduled", res.Rescheduled,
		"failed", res.Failed, "dispatched", res.Dispatched)
	return res, err
}

// QueueRetry applies one backoff step to a stalled record and re-publishes
// it when it is due, abandoned and old enough not to race its first
// dispatch.
func (c *Controller) QueueRetry(ctx context.Context, rec *job.Record) (Outcome, error) {
	var out Outcome
	if rec.ProcessedAt != nil {
		return out, nil
	}
	log := c.log.With("key", rec.Key, "instance_id", rec.InstanceID)

	if rec.FailedAt == nil && rec.Stalled() {
		var patch job.Patch
		if offset, ok := c.def.Backoff(rec.Retries); ok {
			next := rec.LastAttempt.Add(offset)
			rec.NextAttempt = &next
			rec.Retries++
			patch.NextAttempt = &next
			patch.Retries = job.Int(rec.Retries)
			out.Rescheduled = true
			log.InfoContext(ctx, "attempt stalled, backing off", "retries", rec.Retries, "next_attempt", next)
		} else {
			failedAt := *rec.LastAttempt
			rec.FailedAt = &failedAt
			patch.FailedAt = &failedAt
			out.Failed = true
			log.WarnContext(ctx, "retry budget exhausted", "retries", rec.Retries, "last_error", rec.LastError)
		}
		if err := c.store.Update(ctx, rec.Key, patch); err != nil {
			return out, err
		}
	}

	if rec.FailedAt != nil {
		return out, nil
	}

	now := c.now()
	window := now.Add(-c.def.MaxProcessingTime)
	abandoned := rec.LastAttempt == nil || !rec.LastAttempt.After(window)
	due := rec.NextAttempt == nil || !rec.NextAttempt.After(now)
	settled := rec.CreatedAt.Before(window)
	if !(abandoned && due && settled) {
		return out, nil
	}

	id, err := c.broker.Publish(ctx, c.def.Topic, broker.Envelope{Name: c.def.Name, Key: rec.Key})
	if err != nil {
		return out, err
	}
	out.Dispatched = true
	log.InfoContext(ctx, "job re-dispatched", "dispatch_id", id, "retries", rec.Retries)
	return out, nil
}
