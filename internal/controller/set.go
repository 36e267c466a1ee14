package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"squall/internal/job"
)

// ErrUnknownJob is returned when a Set has no controller by that name.
var ErrUnknownJob = errors.New("unknown job")

// Set holds every controller in a process so one job type can enqueue
// work for another.
type Set struct {
	mu     sync.RWMutex
	byName map[string]*Controller
	order  []string
}

func NewSet(cs ...*Controller) (*Set, error) {
	s := &Set{byName: make(map[string]*Controller)}
	for _, c := range cs {
		if err := s.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) Register(c *Controller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byName[c.Name()]; dup {
		return fmt.Errorf("controller %q registered twice", c.Name())
	}
	s.byName[c.Name()] = c
	s.order = append(s.order, c.Name())
	return nil
}

func (s *Set) Get(name string) (*Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	return c, ok
}

// All returns the controllers in registration order.
func (s *Set) All() []*Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Controller, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.byName[n])
	}
	return out
}

// Enqueue hands payload to the named controller.
func (s *Set) Enqueue(ctx context.Context, name string, payload job.Payload, runAt *time.Time) (string, error) {
	c, ok := s.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return c.Enqueue(ctx, payload, runAt)
}
