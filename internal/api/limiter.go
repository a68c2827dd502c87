package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"arbiter/internal/config"
	"arbiter/internal/models"

	"golang.org/x/time/rate"
)

const clientKeyUnknown = "unknown"

// rateLimiter keeps one token bucket per client. Authenticated callers are
// keyed by user id, others by remote host.
type rateLimiter struct {
	limiters sync.Map
	cfg      config.APIRateLimitConfig
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	return &rateLimiter{cfg: cfg}
}

func (l *rateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) allow(key string) bool {
	return l.cfg.RPS <= 0 || l.getLimiter(key).Allow()
}

func (l *rateLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}

func clientKey(r *http.Request) string {
	return limiterKey(ActorFromContext(r.Context()), r.RemoteAddr)
}

func limiterKey(actor models.Actor, remoteAddr string) string {
	if !actor.IsAnonymous() {
		return "user:" + strconv.FormatInt(actor.UserID, 10)
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
