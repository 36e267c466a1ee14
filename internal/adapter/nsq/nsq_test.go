package nsq_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	nsqadapter "squall/internal/adapter/nsq"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

func TestTransport_Publish(t *testing.T) {
	p := new(MockPublisher)
	p.On("Publish", "echo", []byte("body")).Return(nil).Once()

	tr := nsqadapter.NewTransport(p)
	require.NoError(t, tr.Publish(context.Background(), "echo", []byte("body")))
	p.AssertExpectations(t)
}

func TestTransport_PublishError(t *testing.T) {
	p := new(MockPublisher)
	p.On("Publish", "echo", mock.Anything).Return(errors.New("E_BAD_TOPIC"))

	err := nsqadapter.NewTransport(p).Publish(context.Background(), "echo", []byte("x"))
	assert.EqualError(t, err, "E_BAD_TOPIC")
}

func TestTransport_PublishCanceled(t *testing.T) {
	p := new(MockPublisher)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := nsqadapter.NewTransport(p).Publish(ctx, "echo", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	p.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestTopicAdmin_TopicExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "application/vnd.nsq; version=1.0", r.Header.Get("Accept"))
		w.Write([]byte(`{"version":"1.3.0","topics":[{"topic_name":"echo","channels":[]}]}`))
	}))
	defer srv.Close()

	a := nsqadapter.NewTopicAdmin(srv.URL, srv.Client())

	ok, err := a.TopicExists(context.Background(), "echo")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.TopicExists(context.Background(), "relay")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopicAdmin_LegacyStatsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status_code":200,"data":{"topics":[{"topic_name":"echo"}]}}`))
	}))
	defer srv.Close()

	ok, err := nsqadapter.NewTopicAdmin(srv.URL, srv.Client()).TopicExists(context.Background(), "echo")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTopicAdmin_CreateTopic(t *testing.T) {
	var created string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/topic/create", r.URL.Path)
		created = r.URL.Query().Get("topic")
	}))
	defer srv.Close()

	require.NoError(t, nsqadapter.NewTopicAdmin(srv.URL, srv.Client()).CreateTopic(context.Background(), "echo"))
	assert.Equal(t, "echo", created)
}

func TestTopicAdmin_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"INVALID_TOPIC"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := nsqadapter.NewTopicAdmin(srv.URL, srv.Client()).CreateTopic(context.Background(), "bad topic")
	assert.ErrorContains(t, err, "INVALID_TOPIC")
}

func TestNewConsumer_RequiresAddress(t *testing.T) {
	_, err := nsqadapter.NewConsumer("echo", "echoProcess", nsqadapter.ConsumerConfig{}, nil)
	assert.Error(t, err)
}
