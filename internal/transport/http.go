// Package transport exposes controllers over HTTP: one submission route,
// one retry-scan route and one push-delivery route per job type.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"squall/internal/apperr"
	"squall/internal/broker"
	"squall/internal/controller"
	"squall/internal/job"
	"squall/internal/middleware"
	"squall/internal/store"
)

const maxBodyBytes = 10 << 20

type Handler struct {
	c *controller.Controller
}

func NewHandler(c *controller.Controller) *Handler {
	return &Handler{c: c}
}

// Submit handles POST /{name}. Other methods are not routed.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		apperr.Write(ctx, w, apperr.NotFound("Resource cannot be found"))
		return
	}

	payload, runAt, err := h.decodeSubmission(r)
	if err != nil {
		apperr.Write(ctx, w, err)
		return
	}

	resp, err := h.c.Submit(ctx, payload, controller.SubmitOptions{RunAt: runAt})
	if err != nil {
		apperr.Write(ctx, w, err)
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

// Retry handles POST /{name}Retry by running one scan.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.c.Retry(ctx)
	if err != nil {
		apperr.Write(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scan": res})
}

// Process handles POST /{name}Process, a push delivery of one broker
// message.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		apperr.Write(ctx, w, apperr.Invalid(err))
		return
	}

	if err := h.c.Receive(ctx, body); err != nil {
		if errors.Is(err, broker.ErrMalformedEnvelope) || errors.Is(err, controller.ErrWrongController) {
			apperr.Write(ctx, w, apperr.Invalid(err))
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			apperr.Write(ctx, w, apperr.NotFound(err.Error()))
			return
		}
		apperr.Write(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type wrapped struct {
	Data  json.RawMessage `json:"data"`
	RunAt *time.Time      `json:"runAt"`
}

func (h *Handler) decodeSubmission(r *http.Request) (job.Payload, *time.Time, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, apperr.Invalid(err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil, nil
	}

	if h.c.Definition().WrapInData {
		var w wrapped
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, nil, invalidBody(err)
		}
		p, err := decodePayload(w.Data)
		return p, w.RunAt, err
	}

	p, err := decodePayload(raw)
	if err != nil {
		return nil, nil, err
	}
	var runAt *time.Time
	if v := r.URL.Query().Get("runAt"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, nil, apperr.Invalid(fmt.Errorf("runAt must be an RFC 3339 timestamp: %w", err))
		}
		runAt = &t
	}
	return p, runAt, nil
}

func decodePayload(raw json.RawMessage) (job.Payload, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "{") {
		return nil, apperr.Invalid(errors.New("payload must be a JSON object"))
	}
	var p job.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidBody(err)
	}
	return p, nil
}

func invalidBody(err error) error {
	return apperr.Invalid(fmt.Errorf("request body is not valid JSON: %w", err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Mount registers the three routes of c on mux behind the correlation,
// CORS and auth middleware.
func Mount(mux *http.ServeMux, c *controller.Controller) {
	def := c.Definition()
	h := NewHandler(c)
	wrap := func(fn http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(middleware.CORS(def.CORSHosts)(middleware.Auth(def.Authenticate)(fn)))
	}
	mux.Handle("/"+def.Name, wrap(h.Submit))
	mux.Handle("POST /"+def.Name+"Retry", wrap(h.Retry))
	mux.Handle("OPTIONS /"+def.Name+"Retry", wrap(h.Retry))
	mux.Handle("POST /"+def.Name+"Process", wrap(h.Process))
}

// Route describes one exported entry point.
type Route struct {
	Type  string `json:"type"`
	Path  string `json:"path"`
	Topic string `json:"topic,omitempty"`
}

// Routes lists the entry points of every controller in set.
func Routes(set *controller.Set) []Route {
	var out []Route
	for _, c := range set.All() {
		out = append(out,
			Route{Type: "http", Path: c.Name()},
			Route{Type: "http", Path: c.Name() + "Retry"},
			Route{Type: "pubsub", Path: c.Name() + "Process", Topic: c.Topic()},
		)
	}
	return out
}
