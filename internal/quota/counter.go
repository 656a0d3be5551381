package quota

import (
	"encoding/json"
	"fmt"
	"time"
)

// Counter is the cached state of one quota window. Windows are anchored to
// the first counted request; they are not sliding.
type Counter struct {
	Count           int   `json:"count"`
	WindowStartedAt int64 `json:"window_started_at"`
}

// Fresh returns an empty window starting at now.
func Fresh(now time.Time) Counter {
	return Counter{WindowStartedAt: now.UnixMilli()}
}

// Decode parses a cached counter.
func Decode(raw string) (Counter, error) {
	var c Counter
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Counter{}, fmt.Errorf("decode counter: %w", err)
	}
	return c, nil
}

func (c Counter) Encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

func (c Counter) StartedAt() time.Time {
	return time.UnixMilli(c.WindowStartedAt)
}

// Elapsed reports whether window has passed since the counter started.
func (c Counter) Elapsed(now time.Time, window time.Duration) bool {
	return now.Sub(c.StartedAt()) >= window
}

// RetryAfter is the time left in the window, floored at zero.
func (c Counter) RetryAfter(now time.Time, window time.Duration) time.Duration {
	left := window - now.Sub(c.StartedAt())
	if left < 0 {
		return 0
	}
	return left
}

// TTL is how long to keep the counter after a write: the rest of the
// window, but never less than floor.
func (c Counter) TTL(now time.Time, window, floor time.Duration) time.Duration {
	ttl := c.RetryAfter(now, window)
	if ttl < floor {
		return floor
	}
	return ttl
}

// EffectiveWindow widens window to the cache's minimum TTL. Counters
// cannot expire sooner than the floor, so a shorter window would not be
// honoured anyway.
func EffectiveWindow(window, floor time.Duration) time.Duration {
	if window < floor {
		return floor
	}
	return window
}

// Key names the cache entry for one caller, method and route.
func Key(caller, method, route string) string {
	return "rl:" + caller + ":" + method + ":" + route
}
