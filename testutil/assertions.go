package testutil

import (
	"testing"
	"time"
)

// AssertEqual fails the test when got differs from want.
func AssertEqual[T comparable](t *testing.T, want, got T, msg string) {
	t.Helper()
	if want != got {
		t.Fatalf("%s: want %v, got %v", msg, want, got)
	}
}

// AssertTrue fails the test when condition is false.
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: condition is false", msg)
	}
}

// AssertNoError fails the test on a non-nil err.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertInRange fails unless lo <= value <= hi. Frame counts and durations
// from real timers are checked this way.
func AssertInRange(t *testing.T, value, lo, hi float64, msg string) {
	t.Helper()
	if value < lo || value > hi {
		t.Fatalf("%s: %v outside [%v, %v]", msg, value, lo, hi)
	}
}

// WaitForCondition polls condition until it holds or timeout elapses.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-deadline.C:
			if condition() {
				return
			}
			t.Fatalf("%s: not reached within %v", msg, timeout)
		case <-tick.C:
		}
	}
}
