package identity

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Authenticate extracts and validates the Bearer token, attaching the
// Principal to the request context. Requests without a valid token get 401.
func Authenticate(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
				return
			}

			p, err := tokens.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth: rejected token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin rejects authenticated callers that lack the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok || !p.IsAdmin() {
			http.Error(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
