package dberr

import "testing"

func TestRetryControllerBackoffRespectsBounds(t *testing.T) {
	rc := NewRetryControllerWithBounds(0, 0) // zero bounds fall back to defaults
	for attempt := 0; attempt < 10; attempt++ {
		d := rc.Backoff(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: backoff must be positive, got %v", attempt, d)
		}
		if d > rc.maxDelay+rc.maxDelay/4 {
			t.Fatalf("attempt %d: backoff %v exceeds maxDelay+jitter %v", attempt, d, rc.maxDelay)
		}
	}
}

func TestRetryControllerZeroInitialDelayFallsBackToDefault(t *testing.T) {
	rc := NewRetryControllerWithBounds(0, 0)
	if rc.initialDelay != 10_000_000 { // 10ms in ns
		t.Errorf("zero initialDelay should fall back to default, got %v", rc.initialDelay)
	}
}
