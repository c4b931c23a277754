package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstock/labstock-backend/api/responses"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
	"github.com/labstock/labstock-backend/pkg/logger"
)

const (
	defaultRateLimitWindow = time.Minute
	defaultRateLimitMax    = 120
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimit applies a fixed-window cap per authenticated user, falling back to
// the remote address for anonymous traffic. Limiter errors fail open.
func RateLimit(limiter rateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			scope := UserIDFromContext(r.Context())
			if scope == "" {
				scope = remoteHost(r)
			}

			allowed, count, err := limiter.FixedWindowAllow(r.Context(), scope, defaultRateLimitMax, defaultRateLimitWindow)
			if err != nil {
				if logg != nil {
					logg.Error(r.Context(), "rate limit check failed", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeRateLimit, "request rate exceeded").
						WithDetails(map[string]any{"window_seconds": int(defaultRateLimitWindow.Seconds()), "count": count}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return fmt.Sprintf("addr:%s", r.RemoteAddr)
	}
	return host
}
