package cronengine_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"squall/internal/cronengine"
)

func TestHandler(t *testing.T) {
	s := &fakeScanner{name: "echo"}
	h := cronengine.New([]cronengine.Scanner{s}).Handler()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, `{"name":"squall cron engine"}`},
		{"/_ah/start", http.StatusOK, `{"status":"ok"}`},
		{"/_ah/warmup", http.StatusOK, `{"status":"ok"}`},
		{"/retry", http.StatusOK, `{"status":"ok"}`},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
	assert.EqualValues(t, 1, s.calls.Load())
}
