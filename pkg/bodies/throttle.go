package bodies

import (
	"sync/atomic"
	"time"
)

// warnThrottle lets at most one event through per interval.
type warnThrottle struct {
	interval time.Duration
	last     atomic.Int64 // unix nanos of the last allowed event, 0 if none
	now      func() time.Time
}

func newWarnThrottle(interval time.Duration) *warnThrottle {
	return &warnThrottle{interval: interval, now: time.Now}
}

// Allow reports whether the caller may emit its warning now.
func (t *warnThrottle) Allow() bool {
	now := t.now().UnixNano()
	for {
		last := t.last.Load()
		if last != 0 && now-last < int64(t.interval) {
			return false
		}
		if t.last.CompareAndSwap(last, now) {
			return true
		}
	}
}
