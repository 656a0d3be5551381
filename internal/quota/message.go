package quota

import (
	"fmt"
	"math"
	"time"
)

// HumanizeWindow renders a window as "minute", "5 minutes", "hour", etc.
func HumanizeWindow(d time.Duration) string {
	units := []struct {
		size time.Duration
		name string
	}{
		{24 * time.Hour, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
		{time.Second, "second"},
	}
	for _, u := range units {
		if d >= u.size && d%u.size == 0 {
			n := int(d / u.size)
			if n == 1 {
				return u.name
			}
			return fmt.Sprintf("%d %ss", n, u.name)
		}
	}
	return d.String()
}

// RetrySeconds rounds a wait up to whole seconds.
func RetrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// LimitMessage is the 429 error text.
func LimitMessage(points int, window time.Duration, wait time.Duration) string {
	noun := "requests"
	if points == 1 {
		noun = "request"
	}
	return fmt.Sprintf("Rate limit exceeded: %d %s per %s allowed. Try again in %d seconds.",
		points, noun, HumanizeWindow(window), RetrySeconds(wait))
}

// LimitHint is the actionable hint attached to a 429.
func LimitHint(wait time.Duration) string {
	return fmt.Sprintf("Wait %d seconds before retrying. Windows are fixed and start at the first counted request.",
		RetrySeconds(wait))
}
