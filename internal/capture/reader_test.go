package capture

import (
	"testing"
	"time"
)

func TestRateMeterLowRateWarning(t *testing.T) {
	m := newRateMeter(60, discardLogger())
	start := time.Unix(0, 0)

	// 60 frames evenly spread over one second.
	for i := 0; i <= 60; i++ {
		m.observe(start.Add(time.Duration(i) * time.Second / 60))
	}
	if m.low {
		t.Fatal("nominal rate flagged as low")
	}

	// 30 frames in the next second.
	base := start.Add(time.Second)
	for i := 1; i <= 30; i++ {
		m.observe(base.Add(time.Duration(i) * time.Second / 30))
	}
	if !m.low {
		t.Error("half rate not flagged as low")
	}
}

func TestRateMeterHistoryBounded(t *testing.T) {
	m := newRateMeter(10, discardLogger())
	now := time.Unix(0, 0)
	for i := 0; i < 200; i++ {
		now = now.Add(time.Second)
		m.observe(now)
	}
	if n := len(m.history); n != rateHistory {
		t.Errorf("history = %d, want %d", n, rateHistory)
	}
	if avg := m.Average(); avg != 1 {
		t.Errorf("average = %v, want 1", avg)
	}
}
