package validation

import "testing"

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		counts    Counts
		threshold float64
		defined   bool
		triggered bool
		rate      float64
	}{
		{"six of ten does not pivot", Counts{Strike: 2, Monitor: 2, Disregard: 6}, 0.60, true, false, 0.6},
		{"seven of ten pivots", Counts{Strike: 1, Monitor: 2, Disregard: 7}, 0.60, true, true, 0.7},
		{"empty batch is undefined", Counts{}, 0.60, false, false, 0},
		{"all disregarded", Counts{Disregard: 3}, 0.60, true, true, 1},
		{"lower threshold", Counts{Monitor: 1, Disregard: 1}, 0.4, true, true, 0.5},
		{"zero threshold with no disregards", Counts{Strike: 4}, 0, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.counts, tt.threshold)
			if d.Defined != tt.defined || d.Triggered != tt.triggered {
				t.Errorf("Evaluate(%+v, %v) = %+v, want defined=%v triggered=%v",
					tt.counts, tt.threshold, d, tt.defined, tt.triggered)
			}
			if d.Rate != tt.rate {
				t.Errorf("rate = %v, want %v", d.Rate, tt.rate)
			}
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	c := Counts{Strike: 3, Monitor: 3, Disregard: 4}
	first := Evaluate(c, 0.3)
	for i := 0; i < 100; i++ {
		if got := Evaluate(c, 0.3); got != first {
			t.Fatalf("Evaluate not deterministic: %+v != %+v", got, first)
		}
	}
}
