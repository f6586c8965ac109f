package middleware

import (
	"log/slog"
	"net/http"

	"github.com/lrg1763/BarterswapWeb/pkg/config"
)

type UserConnectionCounter func(userID int64) (int, error)
type UserConnectionCycler func(userID int64)

// NewConnectionLimiter caps simultaneous connections per user. In
// "reject" mode a new device over the cap is turned away; in "cycle"
// mode the oldest open connection is closed to make room for it.
// Must run after the auth middleware.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	cycler UserConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if reqMeta.UserID == 0 {
				logger.Warn("Connection limiter could not determine userID from metadata; blocking request for safety.")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			count, err := counter(reqMeta.UserID)
			if err != nil {
				logger.Error("Connection limiter failed to get connection count", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if count < cfg.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("User connection limit reached", slog.Int64("userID", reqMeta.UserID), slog.Int("count", count))
			switch cfg.Mode {
			case "cycle":
				cycler(reqMeta.UserID)
				next.ServeHTTP(w, r)
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			}
		})
	}
}
