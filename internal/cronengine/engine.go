// Package cronengine triggers retry scans on a schedule. Local job types
// are scanned in-process; remote deployments are reached through their
// {name}Retry endpoints.
package cronengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"squall/internal/controller"
)

const userAgent = "squall cron retry"

// Scanner runs one retry scan.
type Scanner interface {
	Name() string
	Retry(ctx context.Context) (controller.ScanResult, error)
}

type Option func(*Engine)

// WithTargets adds remote retry URLs, called with POST on every tick.
func WithTargets(urls ...string) Option {
	return func(e *Engine) { e.targets = append(e.targets, urls...) }
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithVersion is appended to the User-Agent of remote calls.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

type Engine struct {
	scanners []Scanner
	targets  []string
	client   *http.Client
	version  string

	mu   sync.Mutex
	cron *cron.Cron
}

func New(scanners []Scanner, opts ...Option) *Engine {
	e := &Engine{
		scanners: scanners,
		client:   &http.Client{Timeout: 30 * time.Second},
		version:  "dev",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromSet wraps every controller of set as a Scanner.
func FromSet(set *controller.Set) []Scanner {
	cs := set.All()
	out := make([]Scanner, 0, len(cs))
	for _, c := range cs {
		out = append(out, c)
	}
	return out
}

// ParseSchedule accepts five-field cron expressions and descriptors such
// as "@every 5m" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return parser.Parse(spec)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start schedules RunAll. A tick that overlaps a still-running one is
// skipped.
func (e *Engine) Start(schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("retry schedule %q: %w", schedule, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil {
		return errors.New("cron engine already started")
	}
	log := cronLogger{}
	e.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	e.cron.Schedule(sched, cron.FuncJob(func() {
		if err := e.RunAll(context.Background()); err != nil {
			slog.Error("scheduled retry failed", "error", err)
		}
	}))
	e.cron.Start()
	slog.Info("cron engine started", "schedule", schedule, "jobs", len(e.scanners), "targets", len(e.targets))
	return nil
}

// Stop halts scheduling and waits for a running tick to finish or ctx to
// expire.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunAll scans every local job type and calls every remote target
// concurrently. All of them run even when some fail.
func (e *Engine) RunAll(ctx context.Context) error {
	var g errgroup.Group
	errs := make([]error, len(e.scanners)+len(e.targets))

	for i, s := range e.scanners {
		g.Go(func() error {
			res, err := s.Retry(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("retry %s: %w", s.Name(), err)
				return nil
			}
			slog.InfoContext(ctx, "retry scan finished", "job", s.Name(), "scanned", res.Scanned, "dispatched", res.Dispatched, "failed", res.Failed)
			return nil
		})
	}
	for i, url := range e.targets {
		g.Go(func() error {
			errs[len(e.scanners)+i] = e.callTarget(ctx, url)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (e *Engine) callTarget(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("retry target %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent+" "+e.version)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("retry target %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("retry target %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// cronLogger routes robfig/cron's logging into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	slog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	slog.Error("cron: "+msg, append(kv, "error", err)...)
}
