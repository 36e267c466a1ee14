package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // Postgres driver

	"squall/internal/job"
	"squall/internal/store"
)

const selectColumns = `id, kind, data, created_at, next_attempt, last_attempt, processed_at, failed_at, retries, first_error, last_error, instance_id`

const (
	getQuery    = `SELECT ` + selectColumns + ` FROM job_records WHERE id = $1`
	insertQuery = `INSERT INTO job_records (id, kind, data, created_at, next_attempt, last_attempt, processed_at, failed_at, retries, first_error, last_error, instance_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) ON CONFLICT (id) DO NOTHING`
)

var columns = map[job.Field]string{
	job.FieldCreatedAt:   "created_at",
	job.FieldNextAttempt: "next_attempt",
	job.FieldLastAttempt: "last_attempt",
	job.FieldProcessedAt: "processed_at",
	job.FieldFailedAt:    "failed_at",
	job.FieldRetries:     "retries",
}

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, key string) (*job.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, getQuery, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) Save(ctx context.Context, r *job.Record) (string, error) {
	if r.Key == "" {
		r.Key = uuid.NewString()
	}
	data, err := marshalPayload(r.Payload)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, insertQuery,
		r.Key, r.Kind, data, r.CreatedAt,
		nullTime(r.NextAttempt), nullTime(r.LastAttempt), nullTime(r.ProcessedAt), nullTime(r.FailedAt),
		r.Retries, nullString(r.FirstError), nullString(r.LastError), r.InstanceID,
	)
	if err != nil {
		return "", err
	}
	return r.Key, nil
}

func (s *Store) Update(ctx context.Context, key string, patch job.Patch) error {
	if patch.Empty() {
		return nil
	}

	var sets []string
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Payload != nil {
		data, err := marshalPayload(patch.Payload)
		if err != nil {
			return err
		}
		set("data", data)
	}
	if patch.NextAttempt != nil {
		set("next_attempt", *patch.NextAttempt)
	}
	if patch.LastAttempt != nil {
		set("last_attempt", *patch.LastAttempt)
	}
	if patch.ProcessedAt != nil {
		set("processed_at", *patch.ProcessedAt)
	}
	if patch.FailedAt != nil {
		set("failed_at", *patch.FailedAt)
	}
	if patch.Retries != nil {
		set("retries", *patch.Retries)
	}
	if patch.FirstError != nil {
		set("first_error", *patch.FirstError)
	}
	if patch.LastError != nil {
		set("last_error", *patch.LastError)
	}

	args = append(args, key)
	query := fmt.Sprintf("UPDATE job_records SET %s, updated_at = NOW() WHERE id = $%d", strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q *job.Query) ([]*job.Record, error) {
	query, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*job.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func buildQuery(q *job.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	args := []any{q.Kind}
	where := []string{"kind = $1"}
	for _, f := range q.Filters {
		col := columns[f.Field]
		if f.Op == job.OpIsNull {
			where = append(where, col+" IS NULL")
			continue
		}
		args = append(args, f.Value)
		where = append(where, fmt.Sprintf("%s %s $%d", col, f.Op, len(args)))
	}
	query := `SELECT ` + selectColumns + ` FROM job_records WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at ASC`
	return query, args, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*job.Record, error) {
	var (
		r                             job.Record
		data                          []byte
		next, last, processed, failed sql.NullTime
		firstErr, lastErr             sql.NullString
	)
	if err := row.Scan(&r.Key, &r.Kind, &data, &r.CreatedAt, &next, &last, &processed, &failed,
		&r.Retries, &firstErr, &lastErr, &r.InstanceID); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", r.Key, err)
		}
	}
	r.NextAttempt = timeOrNil(next)
	r.LastAttempt = timeOrNil(last)
	r.ProcessedAt = timeOrNil(processed)
	r.FailedAt = timeOrNil(failed)
	r.FirstError = firstErr.String
	r.LastError = lastErr.String
	return &r, nil
}

func marshalPayload(p job.Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
