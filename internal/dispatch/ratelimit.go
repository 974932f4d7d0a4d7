package dispatch

import (
	"sync"
	"time"

	"github.com/quakecore/q2srv/internal/addr"
)

// oobRateWindow is the minimum spacing between rcon commands accepted from
// the same base address. The other connectionless commands are not
// throttled.
const oobRateWindow = 500 * time.Millisecond

// rateLimiter tracks the last-accepted time per base address.
type rateLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{last: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether a should be allowed to issue another OOB command
// right now, exempting loopback addresses entirely: local admin tools
// ("status", "rcon" from the console box) must never be flood-limited.
func (r *rateLimiter) Allow(a addr.Address) bool {
	if a.IsLoopback() {
		return true
	}
	key := a.BaseKey()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.last[key]; ok && now.Sub(last) < oobRateWindow {
		return false
	}
	r.last[key] = now
	return true
}
