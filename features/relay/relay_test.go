package relay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"squall/features/echo"
	"squall/features/relay"
	"squall/internal/adapter/memory"
	"squall/internal/broker/brokertest"
	"squall/internal/controller"
	"squall/internal/job"
)

type MockEnqueuer struct{ mock.Mock }

func (m *MockEnqueuer) Enqueue(ctx context.Context, name string, p job.Payload, runAt *time.Time) (string, error) {
	args := m.Called(ctx, name, p, runAt)
	return args.String(0), args.Error(1)
}

func TestRelay_ForwardsToEcho(t *testing.T) {
	st := memory.NewStore()
	rec := &brokertest.Recorder{}
	set, err := controller.NewSet()
	require.NoError(t, err)

	e, err := controller.New(echo.Definition(job.Definition{}), st, rec.Broker())
	require.NoError(t, err)
	r, err := controller.New(relay.Definition(job.Definition{}, echo.Name, set), st, rec.Broker())
	require.NoError(t, err)
	require.NoError(t, set.Register(e))
	require.NoError(t, set.Register(r))

	_, err = set.Enqueue(context.Background(), relay.Name, job.Payload{"id": "9"}, nil)
	require.NoError(t, err)
	first := rec.Messages()[0]
	assert.Equal(t, relay.Name, first.Topic)

	require.NoError(t, r.Receive(context.Background(), first.Body))

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, echo.Topic, msgs[1].Topic)
	assert.Equal(t, echo.Name, msgs[1].Envelope.Name)

	forwarded, err := st.Get(context.Background(), msgs[1].Envelope.Key)
	require.NoError(t, err)
	assert.Equal(t, job.Payload{"id": "9"}, forwarded.Payload)
	assert.Equal(t, echo.Name, forwarded.Kind)
}

func TestRelay_RecordsForwardFailure(t *testing.T) {
	st := memory.NewStore()
	rec := &brokertest.Recorder{}
	m := new(MockEnqueuer)
	m.On("Enqueue", mock.Anything, "echo", mock.Anything, (*time.Time)(nil)).Return("", errors.New("topic missing"))

	r, err := controller.New(relay.Definition(job.Definition{}, "echo", m), st, rec.Broker())
	require.NoError(t, err)

	_, err = r.Enqueue(context.Background(), job.Payload{"id": "1"}, nil)
	require.NoError(t, err)
	msg := rec.Messages()[0]

	require.NoError(t, r.Receive(context.Background(), msg.Body), "hook errors are captured, not returned")

	got, err := st.Get(context.Background(), msg.Envelope.Key)
	require.NoError(t, err)
	assert.Nil(t, got.ProcessedAt)
	assert.Contains(t, got.LastError, "relay to echo")
	m.AssertExpectations(t)
}
