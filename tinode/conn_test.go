package tinode

import (
	"testing"
	"time"
)

func TestExpBackoffSchedule(t *testing.T) {
	b := newExpBackoff()

	prev := time.Duration(0)
	for i := 1; i <= boffMaxShift+2; i++ {
		delay, attempt := b.NextDelay()
		if attempt != i {
			t.Fatalf("attempt = %d, want %d", attempt, i)
		}

		shift := i - 1
		if shift > boffMaxShift {
			shift = boffMaxShift
		}
		base := boffBase * (1 << uint(shift))
		lo := base - time.Duration(boffJitter*float64(base))
		hi := base + time.Duration(boffJitter*float64(base))
		if delay < lo || delay > hi {
			t.Errorf("attempt %d delay = %v outside [%v, %v]", i, delay, lo, hi)
		}
		// While the exponent still grows, doubling outpaces the jitter band.
		if i > 1 && shift == i-1 && delay <= prev {
			t.Errorf("attempt %d delay = %v did not grow from %v", i, delay, prev)
		}
		prev = delay
	}
}

func TestExpBackoffReset(t *testing.T) {
	b := newExpBackoff()
	b.NextDelay()
	b.NextDelay()
	b.Reset()

	delay, attempt := b.NextDelay()
	if attempt != 1 {
		t.Errorf("attempt = %d after reset, want 1", attempt)
	}
	hi := boffBase + time.Duration(boffJitter*float64(boffBase))
	if delay > hi {
		t.Errorf("delay = %v after reset, want at most %v", delay, hi)
	}
}
