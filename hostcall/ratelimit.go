package hostcall

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a host call exceeds its configured
// rate limit, the same family of denial as a PermissionChecker
// failure (spec.md gates every host capability, and a rate cap is
// just a point-in-time-shaped permission).
type ErrRateLimited struct {
	Interface string
	Function  string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("hostcall: %s/%s exceeded its configured rate limit", e.Interface, e.Function)
}

// RateLimiter caps how fast an actor may invoke specific host
// capabilities (e.g. RandomPermissions/ProcessPermissions-style
// point checks bounding invocation frequency rather than just
// argument shape), keyed per interface/function pair so a limit on
// random/bytes never throttles an unrelated call.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter returns an empty limiter set; nothing is throttled
// until SetLimit is called for a given interface/function.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// SetLimit configures a token-bucket limit of r events per second,
// with the given burst, for calls to iface/function.
func (rl *RateLimiter) SetLimit(iface, function string, r rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiters[iface+"/"+function] = rate.NewLimiter(r, burst)
}

// Allow reports whether a call to iface/function may proceed right
// now, consuming a token if so. A pair with no configured limit is
// always allowed.
func (rl *RateLimiter) Allow(iface, function string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters[iface+"/"+function]
	rl.mu.Unlock()
	if !ok {
		return true
	}
	return lim.Allow()
}

// SetRateLimiter attaches rl to the interceptor; every Call first
// checks rl.Allow before running the PermissionChecker, so a
// rate-limited call is never executed and is recorded as a single
// failed "<interface>/<function>" event carrying the rate-limit error
// (unlike a permission denial, which adds a permission-denied event).
func (ic *Interceptor) SetRateLimiter(rl *RateLimiter) { ic.rateLimiter = rl }
