package middleware

import (
	"net/http"
	"net/url"
	"slices"

	"squall/internal/apperr"
)

const (
	allowMethods = "GET,HEAD,POST,PUT"
	allowHeaders = "Access-Control-Allow-Headers, Origin, Accept, X-Requested-With, Content-Type, Access-Control-Request-Method, Access-Control-Request-Headers"
)

// CORS answers preflight requests for origins whose host is in hosts and
// rejects the rest with 403. Non-preflight requests pass through, carrying
// Allow-Origin only for permitted hosts.
func CORS(hosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Methods", allowMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)

			origin := r.Header.Get("Origin")
			allowed := origin != "" && slices.Contains(hosts, originHost(origin))
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				apperr.Write(r.Context(), w, apperr.Forbidden("Cross origin requests not allowed from this host: "+originHost(origin)))
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return origin
	}
	return u.Hostname()
}
