package bodies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWarnThrottle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	throttle := newWarnThrottle(10 * time.Second)
	throttle.now = func() time.Time { return now }

	assert.True(t, throttle.Allow(), "first warning passes")
	assert.False(t, throttle.Allow())

	now = now.Add(9 * time.Second)
	assert.False(t, throttle.Allow())

	now = now.Add(time.Second)
	assert.True(t, throttle.Allow(), "window elapsed")
	assert.False(t, throttle.Allow())
}

func TestWarnThrottle_Concurrent(t *testing.T) {
	throttle := newWarnThrottle(time.Hour)

	allowed := make(chan bool, 64)
	for i := 0; i < 64; i++ {
		go func() { allowed <- throttle.Allow() }()
	}

	n := 0
	for i := 0; i < 64; i++ {
		if <-allowed {
			n++
		}
	}
	assert.Equal(t, 1, n)
}
