package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/perception/pkg/config"
	"golang.org/x/time/rate"
)

const (
	rateLimitSweepInterval = 5 * time.Minute
	rateLimitIdleTTL       = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors keeps one token bucket per client address for a tier.
type visitors struct {
	mu     sync.Mutex
	byAddr map[string]*visitor
	limit  rate.Limit
	burst  int
	done   <-chan struct{}
}

func newVisitors(requestsPerMinute int, done <-chan struct{}) *visitors {
	v := &visitors{
		byAddr: make(map[string]*visitor, 64),
		limit:  rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:  requestsPerMinute,
		done:   done,
	}

	go v.sweep()

	return v
}

func (v *visitors) allow(addr string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.byAddr[addr]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(v.limit, v.burst)}
		v.byAddr[addr] = entry
	}

	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

func (v *visitors) sweep() {
	ticker := time.NewTicker(rateLimitSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			v.mu.Lock()

			for addr, entry := range v.byAddr {
				if now.Sub(entry.lastSeen) > rateLimitIdleTTL {
					delete(v.byAddr, addr)
				}
			}

			v.mu.Unlock()
		case <-v.done:
			return
		}
	}
}

// rateLimitMiddleware returns a per-IP rate limiting middleware for
// the given tier configuration.
func (s *server) rateLimitMiddleware(
	tier config.RateLimitTier,
) func(http.Handler) http.Handler {
	v := newVisitors(tier.RequestsPerMinute, s.done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.allow(clientAddr(r), time.Now()) {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr returns the first X-Forwarded-For hop, or the remote host.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
