package reconnect

import "testing"

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	d := Backoff(20)
	if d > maxDelay+maxDelay/4 {
		t.Fatalf("Backoff(20) = %v, want capped near %v", d, maxDelay)
	}
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	// Jitter is +-25%, so compare the worst case of attempt 0 against
	// the best case of attempt 3 to avoid a flaky overlap.
	low := Backoff(0)
	high := Backoff(3)
	if low > maxDelay || high > maxDelay {
		t.Skip("delays already capped, ordering not meaningful")
	}
	if high < low {
		t.Fatalf("Backoff(3) = %v should tend larger than Backoff(0) = %v", high, low)
	}
}
