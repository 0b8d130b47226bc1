package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := New(Config{Name: "test-open", FailureThreshold: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("expected underlying error, got %v", err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state after %d failures", 3)
	}

	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test-reset", FailureThreshold: 3, Timeout: time.Minute})

	cb.Call(func() error { return errBoom })
	cb.Call(func() error { return errBoom })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errBoom })
	cb.Call(func() error { return errBoom })

	if cb.GetState() != StateClosed {
		t.Error("expected breaker to stay closed when failures are not consecutive")
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := New(Config{Name: "test-recover", FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	cb.Call(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatal("expected open state")
	}

	time.Sleep(20 * time.Millisecond)

	// First probe transitions to half-open
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected half-open after one success, got %v", cb.GetState())
	}
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected second probe to run, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after success threshold, got %v", cb.GetState())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{Name: "test-reopen", FailureThreshold: 1, Timeout: 10 * time.Millisecond})

	cb.Call(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	cb.Call(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Error("expected breaker to reopen on half-open failure")
	}
}
