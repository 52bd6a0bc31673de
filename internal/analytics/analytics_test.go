package analytics_test

import (
	"math"
	"testing"

	"classtrack/internal/analytics"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		attended, held int
		want           float64
	}{
		{0, 0, 0},
		{0, 10, 0},
		{30, 40, 75},
		{40, 40, 100},
		{-3, 10, 0},
		{12, 10, 100}, // attended clamped to held
	}
	for _, tt := range tests {
		got := analytics.Percentage(tt.attended, tt.held)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentage(%d, %d) = %v, want %v", tt.attended, tt.held, got, tt.want)
		}
	}
}

func TestMaxSkippable(t *testing.T) {
	tests := []struct {
		attended, held int
		target         float64
		want           int
	}{
		{30, 40, 75, 0},
		{32, 40, 75, 2},
		{40, 40, 75, 13}, // 40/0.75 - 40 = 13.33
		{10, 10, 50, 10},
		{5, 10, 110, 0},
		{0, 0, 75, 0},
		{7, 10, 70, 0}, // exactly on target with a non-exact float
	}
	for _, tt := range tests {
		got := analytics.MaxSkippable(tt.attended, tt.held, tt.target)
		if got != tt.want {
			t.Errorf("MaxSkippable(%d, %d, %v) = %d, want %d", tt.attended, tt.held, tt.target, got, tt.want)
		}
	}
}

func TestMaxSkippableZeroTargetUnlimited(t *testing.T) {
	if got := analytics.MaxSkippable(0, 100, 0); got != analytics.Unlimited {
		t.Errorf("MaxSkippable with target 0 = %d, want Unlimited", got)
	}
}

// Tightness: k skips keep the percentage at or above target, k+1 drop below.
func TestMaxSkippableTightness(t *testing.T) {
	targets := []float64{25, 40, 50, 66.67, 75, 80, 100}
	for held := 1; held <= 60; held++ {
		for attended := 0; attended <= held; attended++ {
			for _, target := range targets {
				if analytics.Percentage(attended, held) < target {
					// Below target: clamped to 0, tightness does not apply.
					continue
				}
				k := analytics.MaxSkippable(attended, held, target)
				if k == analytics.Unlimited {
					continue
				}
				t100 := target / 100
				at := float64(attended) / float64(held+k)
				if at < t100-1e-9 {
					t.Fatalf("MaxSkippable(%d, %d, %v) = %d: %v < target", attended, held, target, k, at)
				}
				next := float64(attended) / float64(held+k+1)
				if next >= t100-1e-9 {
					t.Fatalf("MaxSkippable(%d, %d, %v) = %d not tight: k+1 still holds", attended, held, target, k)
				}
			}
		}
	}
}

func TestClassesNeeded(t *testing.T) {
	tests := []struct {
		attended, held int
		target         float64
		want           int
	}{
		{30, 40, 75, 0},
		{20, 40, 75, 40},
		{0, 10, 50, 10},
		{0, 0, 75, 0},
		{5, 10, 0, 0},
	}
	for _, tt := range tests {
		got := analytics.ClassesNeeded(tt.attended, tt.held, tt.target)
		if got != tt.want {
			t.Errorf("ClassesNeeded(%d, %d, %v) = %d, want %d", tt.attended, tt.held, tt.target, got, tt.want)
		}
	}
}

func TestClassesNeededUnreachableHundred(t *testing.T) {
	if got := analytics.ClassesNeeded(9, 10, 100); got != analytics.Unreachable {
		t.Errorf("ClassesNeeded(9, 10, 100) = %d, want Unreachable", got)
	}
	if got := analytics.ClassesNeeded(10, 10, 100); got != 0 {
		t.Errorf("ClassesNeeded(10, 10, 100) = %d, want 0", got)
	}
}

// Minimality: n lifts the percentage to target, n-1 does not.
func TestClassesNeededMinimal(t *testing.T) {
	targets := []float64{25, 50, 66.67, 75, 80, 95}
	for held := 1; held <= 60; held++ {
		for attended := 0; attended <= held; attended++ {
			for _, target := range targets {
				if analytics.Percentage(attended, held) >= target {
					continue
				}
				n := analytics.ClassesNeeded(attended, held, target)
				t100 := target / 100
				at := float64(attended+n) / float64(held+n)
				if at < t100-1e-9 {
					t.Fatalf("ClassesNeeded(%d, %d, %v) = %d insufficient", attended, held, target, n)
				}
				if n > 0 {
					prev := float64(attended+n-1) / float64(held+n-1)
					if prev >= t100-1e-9 {
						t.Fatalf("ClassesNeeded(%d, %d, %v) = %d not minimal", attended, held, target, n)
					}
				}
			}
		}
	}
}

func TestAdvise(t *testing.T) {
	a := analytics.Advise(30, 40, 4, 75)
	if !a.IsAboveTarget || a.ClassesToSkip != 0 || a.ClassesToAttend != 0 {
		t.Errorf("Advise(30, 40) = %+v, want above target with zero counts", a)
	}
	if a.Percentage != 75 {
		t.Errorf("Advise percentage = %v, want 75", a.Percentage)
	}

	b := analytics.Advise(20, 40, 4, 75)
	if b.IsAboveTarget || b.ClassesToAttend != 40 {
		t.Errorf("Advise(20, 40) = %+v, want 40 classes to attend", b)
	}

	c := analytics.Advise(0, 0, 4, 75)
	if c.Percentage != 0 || c.ClassesToSkip != 0 || c.ClassesToAttend != 0 {
		t.Errorf("Advise with no data = %+v, want neutral zeros", c)
	}
	if c.Message != "no classes recorded yet" {
		t.Errorf("Advise no-data message = %q", c.Message)
	}
}
