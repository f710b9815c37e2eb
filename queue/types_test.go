package queue

import (
	"testing"
	"time"
)

func TestRetryPolicyDelayFormulas(t *testing.T) {
	linear := RetryPolicy{Kind: RetryLinear, BaseDelay: 5 * time.Second}
	if d := linear.Delay(3); d != 5*time.Second {
		t.Fatalf("linear: expected constant 5s, got %v", d)
	}

	exp := RetryPolicy{Kind: RetryExponential, BaseDelay: time.Second, Multiplier: 2}
	cases := map[int]time.Duration{0: time.Second, 1: 2 * time.Second, 2: 4 * time.Second}
	for attempt, want := range cases {
		if got := exp.Delay(attempt); got != want {
			t.Fatalf("exponential attempt %d: expected %v, got %v", attempt, want, got)
		}
	}

	fixed := RetryPolicy{Kind: RetryFixed, FixedDelay: 3 * time.Second}
	if d := fixed.Delay(10); d != 3*time.Second {
		t.Fatalf("fixed: expected constant 3s, got %v", d)
	}

	adaptive := RetryPolicy{Kind: RetryAdaptive}
	if d := adaptive.Delay(0); d != time.Second {
		t.Fatalf("adaptive attempt 0: expected 1s, got %v", d)
	}
	if d := adaptive.Delay(10); d != 60*time.Second {
		t.Fatalf("adaptive should cap at 60s, got %v", d)
	}

	none := RetryPolicy{Kind: RetryNone}
	if d := none.Delay(5); d != 0 {
		t.Fatalf("none: expected 0 delay, got %v", d)
	}
}
