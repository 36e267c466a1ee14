package cronengine

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves the engine's own endpoints: GET /retry runs every scan
// and target once, the rest are health probes.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "squall cron engine"})
	})
	mux.HandleFunc("GET /retry", func(w http.ResponseWriter, r *http.Request) {
		if err := e.RunAll(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "manual retry finished with errors", "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	health := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	mux.HandleFunc("GET /_ah/start", health)
	mux.HandleFunc("GET /_ah/warmup", health)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
