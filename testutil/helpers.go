package testutil

import (
	"testing"
	"time"
)

// Eventually polls condition every interval and fails the test once timeout
// elapses without it holding.
func Eventually(t *testing.T, condition func() bool, timeout, interval time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.After(timeout)

	for {
		if condition() {
			return
		}

		select {
		case <-deadline:
			t.Fatalf("Condition not met within %s: %s", timeout, message)
		case <-ticker.C:
		}
	}
}

// SkipIfShort skips tests that need Docker.
func SkipIfShort(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping container-backed test in short mode")
	}
}
