package fit

import "testing"

func TestStallTrackerDisabled(t *testing.T) {
	tracker := NewStallTracker(StallConfig{})
	for i := 0; i < 10; i++ {
		if tracker.Update(1.0) {
			t.Fatalf("disabled tracker reported a stall at update %d", i)
		}
	}
	if got := len(tracker.History()); got != 10 {
		t.Errorf("Expected 10 history entries, got %d", got)
	}
}

func TestStallTrackerPatience(t *testing.T) {
	tests := []struct {
		name      string
		norms     []float64
		patience  int
		threshold float64
		stallAt   int // index of the update that reports a stall, -1 for none
	}{
		{"steady improvement", []float64{10, 5, 2.5, 1.2, 0.6}, 2, 0.01, -1},
		{"flat", []float64{1, 1, 1, 1}, 2, 0.01, 2},
		{"small gains count as stale", []float64{1, 0.999, 0.998, 0.997}, 3, 0.01, 3},
		{"improvement resets", []float64{1, 1, 0.5, 0.5, 0.5}, 2, 0.01, 4},
		{"zero norm", []float64{0, 0, 0}, 2, 0.01, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewStallTracker(StallConfig{Patience: tt.patience, Threshold: tt.threshold})
			got := -1
			for i, n := range tt.norms {
				if tracker.Update(n) {
					got = i
					break
				}
			}
			if got != tt.stallAt {
				t.Errorf("stall at %d, want %d", got, tt.stallAt)
			}
		})
	}
}

func TestStallTrackerBest(t *testing.T) {
	tracker := NewStallTracker(StallConfig{Patience: 5})
	for _, n := range []float64{3, 1, 2} {
		tracker.Update(n)
	}
	if tracker.Best() != 1 {
		t.Errorf("Expected best 1, got %f", tracker.Best())
	}
	if tracker.StaleCount() != 1 {
		t.Errorf("Expected stale count 1, got %d", tracker.StaleCount())
	}
}
