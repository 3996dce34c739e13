package redis

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, reset)
	cb.now = clk.now
	return cb, clk
}

var errFail = errors.New("fail")

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", cb.CurrentState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen || called {
		t.Errorf("expected rejection without calling fn, got err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_ProbeAfterTimeout(t *testing.T) {
	tests := []struct {
		name  string
		probe error
		want  State
	}{
		{"success closes", nil, StateClosed},
		{"failure reopens", errFail, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clk := newTestBreaker(2, time.Second)
			cb.Execute(func() error { return errFail })
			cb.Execute(func() error { return errFail })

			clk.advance(999 * time.Millisecond)
			if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
				t.Fatalf("expected still open before timeout, got %v", err)
			}

			clk.advance(time.Millisecond)
			cb.Execute(func() error { return tt.probe })
			if cb.CurrentState() != tt.want {
				t.Errorf("expected %v after probe, got %v", tt.want, cb.CurrentState())
			}
		})
	}
}

func TestCircuitBreaker_FailedProbeRestartsTimeout(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	cb.Execute(func() error { return errFail })

	clk.advance(time.Second)
	cb.Execute(func() error { return errFail })

	clk.advance(500 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected open for a full timeout after failed probe, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errFail })
	cb.Execute(func() error { return errFail })

	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", cb.CurrentState())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var got []State
	cb, clk := newTestBreaker(1, time.Second)
	cb.OnStateChange = func(_, to State) { got = append(got, to) }

	cb.Execute(func() error { return errFail })
	clk.advance(2 * time.Second)
	cb.Execute(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
