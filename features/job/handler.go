package job

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"squall/internal/apperr"
	"squall/internal/controller"
	"squall/internal/store"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// List handles GET /jobs/{name}/failed.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	slog.InfoContext(ctx, "listing failed jobs", "job", name)

	jobs, err := h.service.List(ctx, name)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list jobs", "job", name, "error", err)
		apperr.Write(ctx, w, mapError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Retry handles POST /jobs/{name}/{key}/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name, key := r.PathValue("name"), r.PathValue("key")

	slog.InfoContext(ctx, "retrying failed job", "job", name, "key", key)

	id, err := h.service.Retry(ctx, name, key)
	if err != nil {
		slog.ErrorContext(ctx, "failed to retry job", "job", name, "key", key, "error", err)
		apperr.Write(ctx, w, mapError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"dispatch_id": id}}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, controller.ErrUnknownJob), errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(err.Error())
	case errors.Is(err, ErrNotFailed):
		return apperr.New(http.StatusConflict, "conflict", err.Error())
	}
	return err
}

// Register mounts the admin routes on mux, wrapped in mw.
func (h *Handler) Register(mux *http.ServeMux, mw ...func(http.Handler) http.Handler) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
	mux.Handle("GET /jobs/{name}/failed", wrap(h.List))
	mux.Handle("POST /jobs/{name}/{key}/retry", wrap(h.Retry))
}
