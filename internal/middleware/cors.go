// Package middleware provides HTTP middleware for the relay API.
package middleware

import "net/http"

// OriginChecker reports whether an origin passed web verification.
type OriginChecker interface {
	OriginVerified(origin string) bool
}

// CORS returns middleware that allows cross-origin calls from configured
// origins and from origins that completed the web verification flow.
func CORS(allowedOrigins []string, checker OriginChecker) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			permitted := false
			if origin != "" {
				if _, ok := allowed[origin]; ok {
					permitted = true
				} else if checker != nil && checker.OriginVerified(origin) {
					permitted = true
				}
			}

			if permitted {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Timestamp, X-Signature")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
