// Package memory is an in-process Store for tests and single-node
// development. Records do not survive a restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"squall/internal/job"
	"squall/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*job.Record
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{records: make(map[string]*job.Record)}
}

func (s *Store) Get(_ context.Context, key string) (*job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return clone(r)
}

// Save keeps the first record written under a key, mirroring the
// insert-or-ignore behavior of the SQL driver.
func (s *Store) Save(_ context.Context, r *job.Record) (string, error) {
	if r.Key == "" {
		r.Key = uuid.NewString()
	}
	c, err := clone(r)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.Key]; !exists {
		s.records[r.Key] = c
	}
	return r.Key, nil
}

func (s *Store) Update(_ context.Context, key string, patch job.Patch) error {
	if patch.Payload != nil {
		p, err := clonePayload(patch.Payload)
		if err != nil {
			return err
		}
		patch.Payload = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	patch.Apply(r)
	return nil
}

func (s *Store) Query(_ context.Context, q *job.Query) ([]*job.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Record
	for _, r := range s.records {
		if !q.Match(r) {
			continue
		}
		c, err := clone(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// clone detaches a record from caller memory so later mutation of either
// side is not shared.
func clone(r *job.Record) (*job.Record, error) {
	c := *r
	p, err := clonePayload(r.Payload)
	if err != nil {
		return nil, err
	}
	c.Payload = p
	c.NextAttempt = copyTime(r.NextAttempt)
	c.LastAttempt = copyTime(r.LastAttempt)
	c.ProcessedAt = copyTime(r.ProcessedAt)
	c.FailedAt = copyTime(r.FailedAt)
	return &c, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clonePayload(p job.Payload) (job.Payload, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out job.Payload
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
