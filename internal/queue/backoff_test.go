package queue

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	prevFloor := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := Backoff(base, max, attempt)

		floor := base << (attempt - 1)
		if floor > max {
			floor = max
		}
		ceiling := floor + floor/10

		if d < floor || d > ceiling {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, floor, ceiling)
		}
		if floor < prevFloor {
			t.Errorf("attempt %d: backoff floor decreased", attempt)
		}
		prevFloor = floor
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	d := Backoff(100*time.Millisecond, time.Second, 0)
	if d < 100*time.Millisecond {
		t.Errorf("attempt 0 delay %v below base", d)
	}
}
