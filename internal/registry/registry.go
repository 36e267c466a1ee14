// Package registry shares long-lived store and broker clients between job
// types. Clients are keyed by a fingerprint of the configuration that
// opened them, so two controllers pointed at the same database reuse one
// pool.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type entry struct {
	kind  string
	value any
	close func() error
}

type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	closed  bool
}

func New() *Pool {
	return &Pool{entries: make(map[string]*entry)}
}

// Fingerprint hashes kind and the JSON form of cfg. Map keys are sorted by
// encoding/json, so equal configs always collide.
func Fingerprint(kind string, cfg any) (string, error) {
	b, err := json.Marshal(struct {
		Kind   string `json:"kind"`
		Config any    `json:"config"`
	}{kind, cfg})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s config: %w", kind, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Shared returns the client cached for (kind, cfg), calling open on the
// first request. The close func returned by open runs on Pool.Close.
func Shared[T any](p *Pool, kind string, cfg any, open func() (T, func() error, error)) (T, error) {
	var zero T
	fp, err := Fingerprint(kind, cfg)
	if err != nil {
		return zero, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return zero, errors.New("registry: pool is closed")
	}
	if e, ok := p.entries[fp]; ok {
		v, ok := e.value.(T)
		if !ok {
			return zero, fmt.Errorf("registry: %s client has type %T", kind, e.value)
		}
		return v, nil
	}

	v, closeFn, err := open()
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", kind, err)
	}
	p.entries[fp] = &entry{kind: kind, value: v, close: closeFn}
	p.order = append(p.order, fp)
	slog.Debug("registry: opened client", "kind", kind, "fingerprint", fp[:12])
	return v, nil
}

// Len reports the number of open clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close releases every client, newest first.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for i := len(p.order) - 1; i >= 0; i-- {
		e := p.entries[p.order[i]]
		if e.close == nil {
			continue
		}
		if err := e.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.kind, err))
		}
	}
	p.entries = nil
	p.order = nil
	return errors.Join(errs...)
}
