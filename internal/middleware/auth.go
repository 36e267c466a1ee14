package middleware

import (
	"net/http"
	"strings"

	"squall/internal/apperr"
	"squall/internal/job"
)

// Auth rejects requests the authenticator does not accept. A nil
// authenticator disables the check. Preflight requests are never
// authenticated.
func Auth(authn job.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authn == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			token := BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				apperr.Write(r.Context(), w, apperr.Unauthorized("The token provided is not valid."))
				return
			}
			ok, err := authn(r.Context(), token)
			if err != nil {
				apperr.Write(r.Context(), w, err)
				return
			}
			if !ok {
				apperr.Write(r.Context(), w, apperr.Unauthorized("The token provided is not valid."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken strips a Bearer scheme. Any other header value is returned
// whole.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
