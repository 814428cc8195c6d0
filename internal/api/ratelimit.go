package api

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"samadhan/internal/config"
	"samadhan/internal/constants"
)

// CounterFactory returns a fresh counter for one named limiter. httprate
// configures each counter with its own window, so counters are never shared
// between limiters.
type CounterFactory func(name string) httprate.LimitCounter

type rateLimiters struct {
	ip         *ClientIPResolver
	newCounter CounterFactory
}

// limit applies cfg per client IP. Limiters with different names keep
// separate counts.
func (l rateLimiters) limit(name string, cfg config.LimitConfig) func(http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return name + ":" + l.ip.Resolve(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(cfg.Window)))
			writeError(w, http.StatusTooManyRequests, constants.ErrCodeRateLimited, "Too many requests, please try again later")
		}),
		httprate.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("rate limiter unavailable", "component", "api", "limiter", name, "error", err)
			writeError(w, http.StatusServiceUnavailable, constants.ErrCodeInternal, "Service temporarily unavailable")
		}),
	}
	if l.newCounter != nil {
		opts = append(opts, httprate.WithLimitCounter(l.newCounter(name)))
	}
	return httprate.Limit(cfg.Requests, cfg.Window, opts...)
}

func retryAfterSeconds(window time.Duration) int {
	if window <= 0 {
		return 1
	}
	seconds := int(math.Ceil(window.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
