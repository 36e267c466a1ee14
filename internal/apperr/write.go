package apperr

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Write renders err as the JSON error document with its status.
func Write(ctx context.Context, w http.ResponseWriter, err error) {
	e := From(err)
	if e.Status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	if err := json.NewEncoder(w).Encode(e.Body()); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
