package breaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestClosedAdmitsUntilThreshold(t *testing.T) {
	cb := New(3, time.Second, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("should still admit before threshold, attempt %d", i)
		}
		cb.RecordFailure()
	}

	if cb.CurrentState() != Closed {
		t.Fatalf("expected still closed after 2 of 3 failures, got %s", cb.CurrentState())
	}

	if !cb.Allow() {
		t.Fatal("should admit the 3rd attempt")
	}
	cb.RecordFailure()

	if cb.CurrentState() != Open {
		t.Fatalf("expected open after reaching threshold, got %s", cb.CurrentState())
	}
}

func TestOpenDeniesUntilTimeoutElapses(t *testing.T) {
	cb := New(1, 50*time.Millisecond, zerolog.Nop())
	cb.Allow()
	cb.RecordFailure()

	if cb.CurrentState() != Open {
		t.Fatalf("expected open, got %s", cb.CurrentState())
	}
	if cb.Allow() {
		t.Fatal("should deny immediately after tripping")
	}

	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("should admit a probe after the timeout elapses")
	}
	if cb.CurrentState() != HalfOpen {
		t.Fatalf("expected half_open after the probe is admitted, got %s", cb.CurrentState())
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	cb := New(1, 10*time.Millisecond, zerolog.Nop())
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe to be admitted")
	}
	cb.RecordSuccess()

	if cb.CurrentState() != Closed {
		t.Fatalf("expected closed after successful probe, got %s", cb.CurrentState())
	}
	if !cb.Allow() {
		t.Fatal("closed breaker should admit freely")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(1, 10*time.Millisecond, zerolog.Nop())
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe to be admitted")
	}
	cb.RecordFailure()

	if cb.CurrentState() != Open {
		t.Fatalf("expected re-opened after failed probe, got %s", cb.CurrentState())
	}
}

func TestHalfOpenDeniesConcurrentProbes(t *testing.T) {
	cb := New(1, 10*time.Millisecond, zerolog.Nop())
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected the first probe to be admitted")
	}
	if cb.Allow() {
		t.Fatal("a second concurrent caller must be denied while the probe is in flight")
	}
}
