package mathx_test

import (
	"math"
	"testing"

	"github.com/brandondube/goguide/mathx"
)

func TestNormalizeAngle(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{math.Pi + 0.1, -math.Pi + 0.1},
		{-3 * math.Pi, math.Pi},
		{2 * math.Pi, 0},
	}
	for _, c := range cases {
		got := mathx.NormalizeAngle(c.in)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestMedianOdd(t *testing.T) {
	vals := []float64{5, 1, 3}
	got := mathx.Median(vals)
	if got != 3 {
		t.Errorf("Median() = %v, want 3", got)
	}
	// input slice must not be reordered
	if vals[0] != 5 || vals[1] != 1 || vals[2] != 3 {
		t.Errorf("Median mutated its input: %v", vals)
	}
}

func TestMedianEven(t *testing.T) {
	got := mathx.Median([]float64{1, 2, 3, 4})
	if got != 2.5 {
		t.Errorf("Median() = %v, want 2.5", got)
	}
}

func TestClamp(t *testing.T) {
	if got := mathx.Clamp(10, 0, 5); got != 5 {
		t.Errorf("Clamp(10,0,5) = %v, want 5", got)
	}
	if got := mathx.Clamp(-1, 0, 5); got != 0 {
		t.Errorf("Clamp(-1,0,5) = %v, want 0", got)
	}
}

func TestRunningStats(t *testing.T) {
	var rs mathx.RunningStats
	for _, v := range []float64{10, 10, 10} {
		rs.Add(v)
	}
	if rs.Mean() != 10 {
		t.Errorf("Mean() = %v, want 10", rs.Mean())
	}
	if rs.Variance() != 0 {
		t.Errorf("Variance() = %v, want 0", rs.Variance())
	}
}
