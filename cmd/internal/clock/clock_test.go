package clock

import (
	"testing"
	"time"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now()=%v want %v", got, start)
	}

	got := c.Advance(90 * time.Minute)
	if want := start.Add(90 * time.Minute); !got.Equal(want) {
		t.Fatalf("Advance()=%v want %v", got, want)
	}

	later := start.Add(48 * time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Fatalf("Now() after Set=%v want %v", got, later)
	}
}

func TestOrSystem(t *testing.T) {
	t.Parallel()

	if _, ok := OrSystem(nil).(System); !ok {
		t.Fatalf("OrSystem(nil) should return System")
	}

	m := NewManual(time.Unix(0, 0))
	if OrSystem(m) != Clock(m) {
		t.Fatalf("OrSystem should return the provided clock")
	}
}
