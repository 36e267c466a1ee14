package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"squall/internal/controller"
	"squall/internal/job"
	"squall/internal/store"
)

// ErrNotFailed is returned when a retry is requested for a record that has
// not permanently failed.
var ErrNotFailed = errors.New("job has not failed")

// Controllers resolves job types by name.
type Controllers interface {
	Get(name string) (*controller.Controller, bool)
}

type Service struct {
	store store.Store
	set   Controllers
	now   func() time.Time
}

func NewService(s store.Store, set Controllers) *Service {
	return &Service{store: s, set: set, now: time.Now}
}

func (s *Service) controller(name string) (*controller.Controller, error) {
	c, ok := s.set.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", controller.ErrUnknownJob, name)
	}
	return c, nil
}

// List returns the failed records of a job type, oldest first.
func (s *Service) List(ctx context.Context, name string) ([]FailedJob, error) {
	c, err := s.controller(name)
	if err != nil {
		return nil, err
	}
	records, err := s.store.Query(ctx, job.NewQuery(c.Kind()).Where(job.FieldFailedAt, job.OpLte, s.now()))
	if err != nil {
		return nil, err
	}
	out := make([]FailedJob, 0, len(records))
	for _, r := range records {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// Retry submits the payload of a failed record as a new job. The failed
// record is left as it is.
func (s *Service) Retry(ctx context.Context, name, key string) (string, error) {
	c, err := s.controller(name)
	if err != nil {
		return "", err
	}
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if rec.Kind != c.Kind() {
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	if rec.FailedAt == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFailed, key)
	}
	return c.Enqueue(ctx, rec.Payload, nil)
}
