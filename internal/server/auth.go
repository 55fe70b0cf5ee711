package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elevateai/elevate-go/internal/logging"
)

// authMiddleware enforces Bearer token authentication on the data routes.
// If apiKey is empty the middleware is a no-op — auth is disabled and a
// warning is logged once at server startup, not per request.
//
// Protected routes must supply:
//
//	Authorization: Bearer <apiKey>
//
// Failures get a 401 with a WWW-Authenticate challenge and the same JSON
// error body the rest of the API uses. The presented token value is never
// logged, only its presence or absence.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)

		switch {
		case token == "":
			logging.FromContext(r.Context()).Warn("auth: missing bearer token",
				slog.String("path", r.URL.Path),
			)
			unauthorized(w, `Bearer realm="elevate"`, "authorization required")

		case subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1:
			logging.FromContext(r.Context()).Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
			)
			unauthorized(w, `Bearer realm="elevate" error="invalid_token"`, "invalid token")

		default:
			next.ServeHTTP(w, r)
		}
	})
}

// unauthorized writes a 401 with the given WWW-Authenticate challenge and a
// JSON error body.
func unauthorized(w http.ResponseWriter, challenge, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msg})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(hdr, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
