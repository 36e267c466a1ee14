package controller_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"squall/internal/adapter/memory"
	"squall/internal/broker/brokertest"
	"squall/internal/controller"
	"squall/internal/job"
)

func (f *fixture) seed(t *testing.T, r *job.Record) string {
	t.Helper()
	if r.Kind == "" {
		r.Kind = "echo"
	}
	key, err := f.store.Save(context.Background(), r)
	require.NoError(t, err)
	return key
}

func at(t time.Time) *time.Time { return &t }

func TestRetry_RecentRecordNotDispatched(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	f.seed(t, &job.Record{CreatedAt: f.now, NextAttempt: at(f.now)})

	res, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Dispatched)
	assert.Empty(t, f.broker.Messages())
}

func TestRetry_NeverAttemptedDispatchedOnce(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	created := f.now.Add(-10 * time.Minute)
	key := f.seed(t, &job.Record{CreatedAt: created, NextAttempt: at(created)})
	writes := f.store.updates.Load()

	res, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)

	msgs := f.broker.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, key, msgs[0].Envelope.Key)
	assert.Equal(t, "echo", msgs[0].Envelope.Name)

	rec := f.get(t, key)
	assert.Equal(t, 0, rec.Retries)
	assert.True(t, created.Equal(*rec.NextAttempt))
	assert.Equal(t, writes, f.store.updates.Load(), "record otherwise unchanged")
}

func TestRetry_StalledAttemptBacksOff(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	created := f.now.Add(-20 * time.Minute)
	last := f.now.Add(-10 * time.Minute)
	key := f.seed(t, &job.Record{CreatedAt: created, NextAttempt: at(created), LastAttempt: at(last)})

	res, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rescheduled)
	assert.Zero(t, res.Dispatched)
	assert.Empty(t, f.broker.Messages(), "next attempt is still in the future")

	rec := f.get(t, key)
	assert.Equal(t, 1, rec.Retries)
	assert.True(t, last.Add(30*time.Minute).Equal(*rec.NextAttempt))
}

func TestRetry_StalledWithZeroOffsetDispatches(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo", Retries: []float64{0}})
	created := f.now.Add(-time.Hour)
	last := f.now.Add(-30 * time.Minute)
	key := f.seed(t, &job.Record{CreatedAt: created, NextAttempt: at(created), LastAttempt: at(last)})

	_, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)

	rec := f.get(t, key)
	assert.Equal(t, 1, rec.Retries)
	assert.Len(t, f.broker.Messages(), 1)
}

func TestRetry_ExhaustedBudgetFails(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	created := f.now.Add(-30 * 24 * time.Hour)
	last := f.now.Add(-time.Hour)
	key := f.seed(t, &job.Record{CreatedAt: created, NextAttempt: at(last), LastAttempt: at(last), Retries: len(job.DefaultRetries)})

	res, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, f.broker.Messages())

	rec := f.get(t, key)
	require.NotNil(t, rec.FailedAt)
	assert.True(t, last.Equal(*rec.FailedAt))
	assert.Equal(t, len(job.DefaultRetries), rec.Retries)

	res, err = f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Scanned, "failed records drop out of the scan")
}

func TestRetry_InFlightRecordSkipped(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	created := f.now.Add(-time.Hour)
	last := f.now.Add(-time.Minute)
	key := f.seed(t, &job.Record{CreatedAt: created, NextAttempt: at(created), LastAttempt: at(last)})

	res, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, f.get(t, key).Retries)
	assert.Empty(t, f.broker.Messages())
}

func TestRetry_IgnoresTerminalAndFutureRecords(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	old := f.now.Add(-time.Hour)
	f.seed(t, &job.Record{CreatedAt: old, NextAttempt: at(old), ProcessedAt: at(old)})
	f.seed(t, &job.Record{CreatedAt: old, NextAttempt: at(f.now.Add(time.Hour))})
	f.seed(t, &job.Record{Kind: "relay", CreatedAt: old, NextAttempt: at(old)})

	res, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Empty(t, f.broker.Messages())
}

func TestRetry_ManyRecords(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	old := f.now.Add(-time.Hour)
	for i := 0; i < 25; i++ {
		f.seed(t, &job.Record{Key: fmt.Sprintf("k%02d", i), CreatedAt: old, NextAttempt: at(old)})
	}

	res, err := f.ctrl.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, res.Dispatched)
	assert.Len(t, f.broker.Messages(), 25)
}

func TestQueueRetry_BackoffTable(t *testing.T) {
	offsets := job.DefaultRetries
	for r := range offsets {
		t.Run(fmt.Sprintf("retries=%d", r), func(t *testing.T) {
			f := newFixture(t, job.Definition{Name: "echo"})
			last := f.now.Add(-time.Hour)
			rec := &job.Record{CreatedAt: last, NextAttempt: at(last), LastAttempt: at(last), Retries: r}
			key := f.seed(t, rec)

			out, err := f.ctrl.QueueRetry(context.Background(), rec)
			require.NoError(t, err)
			assert.True(t, out.Rescheduled)

			got := f.get(t, key)
			assert.Equal(t, r+1, got.Retries)
			want := last.Add(time.Duration(offsets[r] * float64(time.Hour)))
			assert.True(t, want.Equal(*got.NextAttempt), "want %s got %s", want, got.NextAttempt)
		})
	}
}

func TestQueueRetry_ProcessedRecordUntouched(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	old := f.now.Add(-time.Hour)
	rec := &job.Record{Key: "k", CreatedAt: old, NextAttempt: at(old), LastAttempt: at(old), ProcessedAt: at(old)}

	out, err := f.ctrl.QueueRetry(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, controller.Outcome{}, out)
}

func TestRetry_PublishErrorReported(t *testing.T) {
	f := newFixture(t, job.Definition{Name: "echo"})
	old := f.now.Add(-time.Hour)
	f.seed(t, &job.Record{CreatedAt: old, NextAttempt: at(old)})
	f.broker.Err = errors.New("broker down")

	_, err := f.ctrl.Retry(context.Background())
	assert.ErrorContains(t, err, "broker down")
}

func TestRetry_QueryErrorReported(t *testing.T) {
	st := new(MockStore)
	c, err := controller.New(job.Definition{Name: "echo"}, st, (&brokertest.Recorder{}).Broker())
	require.NoError(t, err)
	st.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("relation does not exist"))

	_, err = c.Retry(context.Background())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestSet(t *testing.T) {
	rec := &brokertest.Recorder{}
	st := memory.NewStore()
	echo, err := controller.New(job.Definition{Name: "echo"}, st, rec.Broker())
	require.NoError(t, err)
	relay, err := controller.New(job.Definition{Name: "relay"}, st, rec.Broker())
	require.NoError(t, err)

	set, err := controller.NewSet(echo, relay)
	require.NoError(t, err)
	assert.Equal(t, []*controller.Controller{echo, relay}, set.All())

	_, err = set.Enqueue(context.Background(), "echo", job.Payload{"id": "1"}, nil)
	require.NoError(t, err)
	require.Len(t, rec.Messages(), 1)
	assert.Equal(t, "echo", rec.Messages()[0].Envelope.Name)

	_, err = set.Enqueue(context.Background(), "missing", job.Payload{"id": "1"}, nil)
	assert.ErrorIs(t, err, controller.ErrUnknownJob)

	assert.Error(t, set.Register(echo), "duplicate names are rejected")
}
