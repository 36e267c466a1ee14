// Package redis stores job records as Redis hashes, one per record. Each
// kind has two index sets: pending keys and terminal keys. Records move to
// the terminal set when processedAt or failedAt is written, so scans for
// pending work only load pending records. Queries filter in process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"squall/internal/job"
	"squall/internal/store"
)

const defaultPrefix = "squall"

type Option func(*Store)

// WithPrefix namespaces every key written by the store.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

type Store struct {
	client redis.Cmdable
	prefix string
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an existing client. The caller owns the client lifecycle.
func NewStore(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) recordKey(key string) string { return s.prefix + ":job:" + key }
func (s *Store) kindKey(kind string) string  { return s.prefix + ":kind:" + kind }
func (s *Store) doneKey(kind string) string  { return s.prefix + ":done:" + kind }

func (s *Store) indexKey(r *job.Record) string {
	if r.Pending() {
		return s.kindKey(r.Kind)
	}
	return s.doneKey(r.Kind)
}

func (s *Store) Get(ctx context.Context, key string) (*job.Record, error) {
	m, err := s.client.HGetAll(ctx, s.recordKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return fromHash(m)
}

// Save writes every field with HSETNX and indexes the key inside one
// MULTI/EXEC. Nothing is written when the transaction fails, and a replayed
// insert leaves fields already present untouched.
func (s *Store) Save(ctx context.Context, r *job.Record) (string, error) {
	if r.Key == "" {
		r.Key = uuid.NewString()
	}
	fields, err := toHash(r)
	if err != nil {
		return "", err
	}

	rk := s.recordKey(r.Key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range sortedFields(fields) {
			pipe.HSetNX(ctx, rk, f, fields[f])
		}
		pipe.SAdd(ctx, s.indexKey(r), r.Key)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis save %s: %w", r.Key, err)
	}
	return r.Key, nil
}

func (s *Store) Update(ctx context.Context, key string, patch job.Patch) error {
	if patch.Empty() {
		return nil
	}
	rk := s.recordKey(key)
	kind, err := s.client.HGet(ctx, rk, "kind").Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("redis update %s: %w", key, err)
	}

	fields, err := patchHash(patch)
	if err != nil {
		return err
	}
	if patch.ProcessedAt == nil && patch.FailedAt == nil {
		if err := s.client.HSet(ctx, rk, fields).Err(); err != nil {
			return fmt.Errorf("redis update %s: %w", key, err)
		}
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rk, fields)
		pipe.SRem(ctx, s.kindKey(kind), key)
		pipe.SAdd(ctx, s.doneKey(kind), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis update %s: %w", key, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q *job.Query) ([]*job.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var keys []string
	var err error
	if pendingOnly(q) {
		keys, err = s.client.SMembers(ctx, s.kindKey(q.Kind)).Result()
	} else {
		keys, err = s.client.SUnion(ctx, s.kindKey(q.Kind), s.doneKey(q.Kind)).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis query %s: %w", q.Kind, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis query %s: %w", q.Kind, err)
	}

	var out []*job.Record
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		r, err := fromHash(m)
		if err != nil {
			return nil, err
		}
		if q.Match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// pendingOnly reports whether q can only match records in neither terminal
// state.
func pendingOnly(q *job.Query) bool {
	var processed, failed bool
	for _, f := range q.Filters {
		if f.Op != job.OpIsNull {
			continue
		}
		switch f.Field {
		case job.FieldProcessedAt:
			processed = true
		case job.FieldFailedAt:
			failed = true
		}
	}
	return processed && failed
}

func sortedFields(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func toHash(r *job.Record) (map[string]any, error) {
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	m := map[string]any{
		"key":        r.Key,
		"kind":       r.Kind,
		"data":       string(data),
		"createdAt":  formatTime(&r.CreatedAt),
		"retries":    strconv.Itoa(r.Retries),
		"instanceId": r.InstanceID,
	}
	setTime(m, "nextAttempt", r.NextAttempt)
	setTime(m, "lastAttempt", r.LastAttempt)
	setTime(m, "processedAt", r.ProcessedAt)
	setTime(m, "failedAt", r.FailedAt)
	if r.FirstError != "" {
		m["firstError"] = r.FirstError
	}
	if r.LastError != "" {
		m["lastError"] = r.LastError
	}
	return m, nil
}

func patchHash(p job.Patch) (map[string]any, error) {
	m := map[string]any{}
	if p.Payload != nil {
		data, err := json.Marshal(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		m["data"] = string(data)
	}
	setTime(m, "nextAttempt", p.NextAttempt)
	setTime(m, "lastAttempt", p.LastAttempt)
	setTime(m, "processedAt", p.ProcessedAt)
	setTime(m, "failedAt", p.FailedAt)
	if p.Retries != nil {
		m["retries"] = strconv.Itoa(*p.Retries)
	}
	if p.FirstError != nil {
		m["firstError"] = *p.FirstError
	}
	if p.LastError != nil {
		m["lastError"] = *p.LastError
	}
	return m, nil
}

func fromHash(m map[string]string) (*job.Record, error) {
	r := &job.Record{
		Key:        m["key"],
		Kind:       m["kind"],
		FirstError: m["firstError"],
		LastError:  m["lastError"],
		InstanceID: m["instanceId"],
	}
	if d := m["data"]; d != "" && d != "null" {
		if err := json.Unmarshal([]byte(d), &r.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", r.Key, err)
		}
	}
	if v := m["retries"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode retries of %s: %w", r.Key, err)
		}
		r.Retries = n
	}

	var err error
	if t, perr := parseTime(m["createdAt"]); perr != nil {
		err = perr
	} else if t != nil {
		r.CreatedAt = *t
	}
	for field, dst := range map[string]**time.Time{
		"nextAttempt": &r.NextAttempt,
		"lastAttempt": &r.LastAttempt,
		"processedAt": &r.ProcessedAt,
		"failedAt":    &r.FailedAt,
	} {
		t, perr := parseTime(m[field])
		if perr != nil {
			err = perr
			continue
		}
		*dst = t
	}
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", r.Key, err)
	}
	return r, nil
}

func setTime(m map[string]any, field string, t *time.Time) {
	if t != nil {
		m[field] = formatTime(t)
	}
}

func formatTime(t *time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
