package quota

import (
	"strings"
	"testing"
	"time"
)

func TestCounterRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	c := Fresh(now)
	c.Count = 2

	got, err := Decode(c.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != c {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, c)
	}
	if !strings.Contains(c.Encode(), `"window_started_at":1700000000123`) {
		t.Fatalf("unexpected encoding %s", c.Encode())
	}
	if _, err := Decode("not json"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCounterWindowArithmetic(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := Fresh(start)
	window := 60 * time.Second

	if c.Elapsed(start.Add(59*time.Second), window) {
		t.Fatal("window should still be open at 59s")
	}
	if !c.Elapsed(start.Add(60*time.Second), window) {
		t.Fatal("window should be void at 60s")
	}

	if got := c.RetryAfter(start.Add(15*time.Second), window); got != 45*time.Second {
		t.Fatalf("retry after = %v, want 45s", got)
	}
	if got := c.RetryAfter(start.Add(90*time.Second), window); got != 0 {
		t.Fatalf("retry after should floor at zero, got %v", got)
	}

	if got := c.TTL(start.Add(10*time.Second), 5*time.Minute, time.Minute); got != 290*time.Second {
		t.Fatalf("ttl = %v, want 290s", got)
	}
	if got := c.TTL(start.Add(50*time.Second), window, time.Minute); got != time.Minute {
		t.Fatalf("ttl should respect floor, got %v", got)
	}
}

func TestEffectiveWindow(t *testing.T) {
	if got := EffectiveWindow(10*time.Second, time.Minute); got != time.Minute {
		t.Fatalf("short window should widen to floor, got %v", got)
	}
	if got := EffectiveWindow(time.Hour, time.Minute); got != time.Hour {
		t.Fatalf("long window should be unchanged, got %v", got)
	}
}

func TestKey(t *testing.T) {
	if got := Key("k:abcd", "POST", "/api/v1/posts/*/comments"); got != "rl:k:abcd:POST:/api/v1/posts/*/comments" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLimitMessage(t *testing.T) {
	msg := LimitMessage(3, time.Minute, 41500*time.Millisecond)
	if msg != "Rate limit exceeded: 3 requests per minute allowed. Try again in 42 seconds." {
		t.Fatalf("unexpected message %q", msg)
	}
	if got := LimitMessage(1, 30*time.Minute, 0); !strings.Contains(got, "1 request per 30 minutes") {
		t.Fatalf("unexpected singular message %q", got)
	}
	if !strings.Contains(LimitHint(5*time.Second), "5 seconds") {
		t.Fatal("hint should carry the wait")
	}
}

func TestHumanizeWindow(t *testing.T) {
	tests := map[time.Duration]string{
		time.Second:             "second",
		30 * time.Second:        "30 seconds",
		time.Minute:             "minute",
		90 * time.Second:        "90 seconds",
		time.Hour:               "hour",
		6 * time.Hour:           "6 hours",
		24 * time.Hour:          "day",
		1500 * time.Millisecond: "1.5s",
	}
	for d, want := range tests {
		if got := HumanizeWindow(d); got != want {
			t.Fatalf("HumanizeWindow(%v) = %q, want %q", d, got, want)
		}
	}
}
