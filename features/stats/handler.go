package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"squall/internal/apperr"
	"squall/internal/job"
)

type RecordQuerier interface {
	Query(ctx context.Context, q *job.Query) ([]*job.Record, error)
}

type Handler struct {
	store RecordQuerier
	kinds []string
	now   func() time.Time
}

func NewHandler(s RecordQuerier, kinds []string) *Handler {
	return &Handler{store: s, kinds: kinds, now: time.Now}
}

// KindStats counts the records of one kind by state.
type KindStats struct {
	Kind      string `json:"kind"`
	Pending   int    `json:"pending"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "getting stats")

	now := h.now()
	resp := make([]KindStats, 0, len(h.kinds))
	for _, kind := range h.kinds {
		s := KindStats{Kind: kind}
		counts := []struct {
			dst *int
			q   *job.Query
		}{
			{&s.Pending, job.NewQuery(kind).IsNull(job.FieldProcessedAt).IsNull(job.FieldFailedAt)},
			{&s.Processed, job.NewQuery(kind).Where(job.FieldProcessedAt, job.OpLte, now)},
			{&s.Failed, job.NewQuery(kind).Where(job.FieldFailedAt, job.OpLte, now)},
		}
		for _, c := range counts {
			records, err := h.store.Query(ctx, c.q)
			if err != nil {
				slog.ErrorContext(ctx, "failed to count records", "kind", kind, "error", err)
				apperr.Write(ctx, w, err)
				return
			}
			*c.dst = len(records)
		}
		resp = append(resp, s)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
