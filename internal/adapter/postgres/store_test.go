package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"squall/internal/adapter/postgres"
	"squall/internal/job"
	"squall/internal/store"
)

var recordColumns = []string{"id", "kind", "data", "created_at", "next_attempt", "last_attempt", "processed_at", "failed_at", "retries", "first_error", "last_error", "instance_id"}

func TestStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := postgres.NewStore(db)
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	last := created.Add(time.Minute)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows(recordColumns).
			AddRow("k1", "echo", []byte(`{"id":"42"}`), created, created, last, nil, nil, 1, `{"message":"a"}`, `{"message":"b"}`, "inst-1")
		mock.ExpectQuery(regexp.QuoteMeta("FROM job_records WHERE id = $1")).
			WithArgs("k1").
			WillReturnRows(rows)

		r, err := s.Get(context.Background(), "k1")
		require.NoError(t, err)
		assert.Equal(t, "echo", r.Kind)
		assert.Equal(t, job.Payload{"id": "42"}, r.Payload)
		require.NotNil(t, r.LastAttempt)
		assert.True(t, last.Equal(*r.LastAttempt))
		assert.Nil(t, r.ProcessedAt)
		assert.Nil(t, r.FailedAt)
		assert.Equal(t, 1, r.Retries)
		assert.Equal(t, `{"message":"a"}`, r.FirstError)
		assert.Equal(t, "inst-1", r.InstanceID)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM job_records WHERE id = $1")).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(recordColumns))

		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := postgres.NewStore(db)
	now := time.Now()
	r := &job.Record{
		Key:         "k1",
		Kind:        "echo",
		Payload:     job.Payload{"message": "Hi there"},
		CreatedAt:   now,
		NextAttempt: &now,
		InstanceID:  "inst-1",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_records")).
		WithArgs("k1", "echo", []byte(`{"message":"Hi there"}`), now, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0, sqlmock.AnyArg(), sqlmock.AnyArg(), "inst-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	key, err := s.Save(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveAssignsKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := postgres.NewStore(db)
	r := &job.Record{Kind: "echo", CreatedAt: time.Now(), InstanceID: "i"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	key, err := s.Save(context.Background(), r)
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Equal(t, key, r.Key)
}

func TestStore_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := postgres.NewStore(db)
	next := time.Now().Add(30 * time.Minute)

	t.Run("Partial", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE job_records SET next_attempt = $1, retries = $2, updated_at = NOW() WHERE id = $3")).
			WithArgs(next, 1, "k1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.Update(context.Background(), "k1", job.Patch{NextAttempt: &next, Retries: job.Int(1)})
		assert.NoError(t, err)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE job_records SET failed_at = $1")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.Update(context.Background(), "gone", job.Patch{FailedAt: &next})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Empty patch is a no-op", func(t *testing.T) {
		assert.NoError(t, s.Update(context.Background(), "k1", job.Patch{}))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := postgres.NewStore(db)
	now := time.Now()
	q := job.NewQuery("echo").
		IsNull(job.FieldProcessedAt).
		IsNull(job.FieldFailedAt).
		Where(job.FieldNextAttempt, job.OpLte, now)

	rows := sqlmock.NewRows(recordColumns).
		AddRow("k1", "echo", []byte(`{}`), now, now, nil, nil, nil, 0, nil, nil, "i1").
		AddRow("k2", "echo", []byte(`{}`), now, now, now, nil, nil, 2, nil, nil, "i2")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE kind = $1 AND processed_at IS NULL AND failed_at IS NULL AND next_attempt <= $2 ORDER BY created_at ASC")).
		WithArgs("echo", now).
		WillReturnRows(rows)

	records, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Nil(t, records[0].LastAttempt)
	assert.Equal(t, 2, records[1].Retries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryRejectsUnknownField(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := postgres.NewStore(db)
	_, err = s.Query(context.Background(), job.NewQuery("echo").Where("data", job.OpEq, "x"))
	assert.Error(t, err)
}
