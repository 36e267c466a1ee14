package cronengine_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"squall/internal/adapter/memory"
	"squall/internal/broker/brokertest"
	"squall/internal/controller"
	"squall/internal/cronengine"
	"squall/internal/job"
)

type fakeScanner struct {
	name  string
	err   error
	calls atomic.Int32
}

func (f *fakeScanner) Name() string { return f.name }
func (f *fakeScanner) Retry(context.Context) (controller.ScanResult, error) {
	f.calls.Add(1)
	return controller.ScanResult{}, f.err
}

type targetServer struct {
	*httptest.Server
	mu     sync.Mutex
	agents []string
	method string
}

func newTarget(t *testing.T, status int) *targetServer {
	ts := &targetServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.agents = append(ts.agents, r.Header.Get("User-Agent"))
		ts.method = r.Method
		ts.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRunAll_LocalAndRemote(t *testing.T) {
	a, b := &fakeScanner{name: "echo"}, &fakeScanner{name: "relay"}
	target := newTarget(t, http.StatusOK)
	e := cronengine.New([]cronengine.Scanner{a, b},
		cronengine.WithTargets(target.URL+"/emailRetry"),
		cronengine.WithVersion("1.2.3"))

	require.NoError(t, e.RunAll(context.Background()))

	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
	assert.Equal(t, []string{"squall cron retry 1.2.3"}, target.agents)
	assert.Equal(t, http.MethodPost, target.method)
}

func TestRunAll_CollectsErrors(t *testing.T) {
	bad := &fakeScanner{name: "echo", err: errors.New("store down")}
	good := &fakeScanner{name: "relay"}
	target := newTarget(t, http.StatusInternalServerError)
	e := cronengine.New([]cronengine.Scanner{bad, good}, cronengine.WithTargets(target.URL))

	err := e.RunAll(context.Background())

	assert.ErrorContains(t, err, "retry echo: store down")
	assert.ErrorContains(t, err, "status 500")
	assert.EqualValues(t, 1, good.calls.Load(), "a failing job does not stop the others")
}

func TestStart_RunsOnSchedule(t *testing.T) {
	s := &fakeScanner{name: "echo"}
	e := cronengine.New([]cronengine.Scanner{s})
	require.NoError(t, e.Start("@every 1s"))
	defer e.Stop(context.Background())

	assert.Eventually(t, func() bool { return s.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Error(t, e.Start("@every 1s"), "second start is rejected")
}

func TestStart_InvalidSchedule(t *testing.T) {
	e := cronengine.New(nil)
	assert.Error(t, e.Start("every five minutes"))
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "@every 5m", "@hourly"} {
		_, err := cronengine.ParseSchedule(spec)
		assert.NoError(t, err, spec)
	}
}

func TestStop_NotStarted(t *testing.T) {
	cronengine.New(nil).Stop(context.Background())
}

func TestFromSet(t *testing.T) {
	c, err := controller.New(job.Definition{Name: "echo"}, memory.NewStore(), (&brokertest.Recorder{}).Broker())
	require.NoError(t, err)
	set, err := controller.NewSet(c)
	require.NoError(t, err)

	scanners := cronengine.FromSet(set)
	require.Len(t, scanners, 1)
	assert.Equal(t, "echo", scanners[0].Name())
}
