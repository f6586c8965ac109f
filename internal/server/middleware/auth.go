package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/lrg1763/BarterswapWeb/internal/identity"
)

// NewAuthMiddleware authenticates the handshake credential before the
// websocket upgrade. The credential travels in the "token" query
// parameter, with a "session-token" cookie as the browser fallback.
// Authentication failure is fatal to the handshake only.
func NewAuthMiddleware(logger *slog.Logger, verifier *identity.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			credential := r.URL.Query().Get("token")
			if credential == "" {
				if cookie, err := r.Cookie("session-token"); err == nil {
					credential = cookie.Value
				}
			}

			userID, err := verifier.Verify(r.Context(), credential)
			if err != nil {
				var authErr *identity.AuthError
				if errors.As(err, &authErr) {
					logger.Warn("Handshake authentication failed",
						slog.String("ip", reqMeta.IP),
						slog.String("reason", authErr.Reason),
					)
					http.Error(w, authErr.Error(), http.StatusUnauthorized)
					return
				}
				logger.Error("Credential verification failed", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = userID
			next.ServeHTTP(w, r)
		})
	}
}
