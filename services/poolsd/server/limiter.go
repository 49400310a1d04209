package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	nativecommon "ratebook/native/common"
	"ratebook/observability"
)

const visitorIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles each client with a token bucket and charges mutating
// calls against the per caller quota.
type rateLimiter struct {
	perSecond rate.Limit
	burst     int
	quota     *nativecommon.QuotaTracker
	now       func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastPrune time.Time
}

func newRateLimiter(requestsPerMinute, burst int, quota nativecommon.Quota, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	rl := &rateLimiter{
		burst:    burst,
		quota:    nativecommon.NewQuotaTracker(quota),
		now:      now,
		visitors: make(map[string]*visitor),
	}
	if requestsPerMinute > 0 {
		rl.perSecond = rate.Limit(float64(requestsPerMinute) / 60.0)
		if rl.burst <= 0 {
			rl.burst = requestsPerMinute
		}
	}
	return rl
}

func (rl *rateLimiter) allow(key string) bool {
	if rl.perSecond <= 0 {
		return true
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.lastPrune) > visitorIdleTTL {
		for id, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTTL {
				delete(rl.visitors, id)
			}
		}
		rl.lastPrune = now
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientKey(r)) {
			observability.PoolMetrics().RecordThrottle("rate")
			writeError(w, errRateLimited)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if auth, ok := authFrom(r.Context()); ok {
				if err := rl.quota.Consume(auth.Caller, rl.now().Unix()); err != nil {
					observability.PoolMetrics().RecordThrottle("quota")
					writeError(w, err)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey prefers the authenticated caller and falls back to the remote IP.
func clientKey(r *http.Request) string {
	if auth, ok := authFrom(r.Context()); ok {
		return auth.Caller.Hex()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
