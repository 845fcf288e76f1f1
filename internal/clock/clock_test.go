package clock

import (
	"testing"
	"time"
)

func TestMinutesSinceMidnight(t *testing.T) {
	cases := []struct {
		h, m, want int
	}{
		{0, 0, 0},
		{9, 30, 570},
		{15, 20, 920},
		{23, 59, 1439},
	}
	for _, c := range cases {
		tm := time.Date(2026, 3, 5, c.h, c.m, 0, 0, time.Local)
		if got := MinutesSinceMidnight(tm); got != c.want {
			t.Errorf("MinutesSinceMidnight(%02d:%02d) = %d, want %d", c.h, c.m, got, c.want)
		}
	}
}

func TestFakeClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 3, 5, 9, 0, 0, 0, time.Local)
	fc := NewFakeClock(start)

	if !fc.Now().Equal(start) {
		t.Fatalf("expected fresh FakeClock to report start time")
	}

	fc.Advance(90 * time.Minute)
	want := start.Add(90 * time.Minute)
	if !fc.Now().Equal(want) {
		t.Fatalf("Advance: got %v, want %v", fc.Now(), want)
	}

	other := time.Date(2026, 3, 5, 16, 0, 0, 0, time.Local)
	fc.Set(other)
	if !fc.Now().Equal(other) {
		t.Fatalf("Set: got %v, want %v", fc.Now(), other)
	}
}
