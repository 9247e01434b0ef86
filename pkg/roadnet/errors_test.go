package roadnet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := NewError("reconcile", ErrReconciliationConflict).
		NetworkID(12).
		Version("1.1").
		Cause(context.DeadlineExceeded).
		Err()

	if !errors.Is(err, ErrReconciliationConflict) {
		t.Error("errors.Is(err, ErrReconciliationConflict) = false")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause not reachable through errors.Is")
	}
	if errors.Is(err, ErrStorageFailure) {
		t.Error("conflict must not match ErrStorageFailure")
	}

	var re *Error
	if !errors.As(err, &re) {
		t.Fatal("errors.As(*Error) = false")
	}
	if re.NetworkID != 12 || re.Version != "1.1" {
		t.Errorf("context lost: %+v", re)
	}
}

func TestErrorMessageCarriesContext(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	err := NewError("query", ErrNoEdgesAtInstant).NetworkID(4).Instant(&at).Err()

	msg := err.Error()
	for _, want := range []string{"query", "no edges at instant", "network_id=4", "2024-01-02T03:04:05Z"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if strings.Contains(msg, "candidate=") {
		t.Errorf("message %q should not mention a candidate", msg)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"conflict", NewError("reconcile", ErrReconciliationConflict).Err(), true},
		{"wrapped conflict", fmt.Errorf("update: %w", NewError("lock", ErrReconciliationConflict).Err()), true},
		{"storage failure", NewError("commit", ErrStorageFailure).Err(), false},
		{"duplicate version", NewError("register", ErrDuplicateVersion).Err(), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	if StorageError("op", nil) != nil {
		t.Error("StorageError(nil) should be nil")
	}

	raw := errors.New("connection reset")
	err := StorageError("commit", raw)
	if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, raw) {
		t.Errorf("StorageError did not wrap as storage failure: %v", err)
	}

	kinded := NewError("register", ErrDuplicateVersion).Err()
	if got := StorageError("commit", kinded); got != kinded {
		t.Errorf("already classified error was rewrapped: %v", got)
	}
}

func TestIntervalContains(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	closed := Interval{From: t0, To: &t1}
	open := Interval{From: t1}

	tests := []struct {
		name string
		iv   Interval
		at   time.Time
		want bool
	}{
		{"before start", closed, t0.Add(-time.Second), false},
		{"at start", closed, t0, true},
		{"inside", closed, t0.Add(time.Minute), true},
		{"at end", closed, t1, true},
		{"after end", closed, t1.Add(time.Nanosecond), false},
		{"open far future", open, t1.Add(1000 * time.Hour), true},
		{"open before start", open, t0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.iv.Contains(tt.at); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestEdgeDerivedState(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	e := &Edge{Intervals: []Interval{{From: t0, To: &t1}, {From: t2}}}

	if !e.IsCurrent() {
		t.Error("edge with open last interval should be current")
	}
	if !e.ValidFrom().Equal(t0) {
		t.Errorf("ValidFrom = %v, want %v", e.ValidFrom(), t0)
	}
	if e.ValidAt(t1.Add(30 * time.Minute)) {
		t.Error("edge must not be valid inside the gap")
	}

	c := e.Clone()
	closedAt := t2.Add(time.Hour)
	c.Intervals[1].To = &closedAt
	if !e.IsCurrent() {
		t.Error("mutating the clone changed the original")
	}
	*c.Intervals[0].To = t2
	if !e.Intervals[0].To.Equal(t1) {
		t.Error("clone shares interval end pointers with the original")
	}
}
