package schedule

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-audinv/tensor"
)

func ldmSchedule(t *testing.T, steps int) *Schedule {
	t.Helper()
	s, err := New(AlphasCumprod(ScaledLinearBetas(1000, 0.00085, 0.012)), steps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewSelectsStridedTimesteps(t *testing.T) {
	s := ldmSchedule(t, 200)
	if s.Steps() != 200 {
		t.Fatalf("steps mismatch: got=%d want=200", s.Steps())
	}
	if s.Timestep(1) != 1 || s.Timestep(2) != 6 || s.Timestep(200) != 996 {
		t.Fatalf("timesteps mismatch: first=%d second=%d last=%d", s.Timestep(1), s.Timestep(2), s.Timestep(200))
	}
	for i := 1; i <= s.Steps(); i++ {
		if s.AlphaBar(i) >= s.AlphaBar(i-1) {
			t.Fatalf("alpha-bar not decreasing at step %d", i)
		}
	}
	if s.AlphaBar(0) != 1 {
		t.Fatalf("final alpha-bar mismatch: %f", s.AlphaBar(0))
	}
}

func TestNewFullStepsClampsOffset(t *testing.T) {
	s := ldmSchedule(t, 1000)
	if s.Timestep(1) != 0 || s.Timestep(1000) != 999 {
		t.Fatalf("timesteps mismatch: first=%d last=%d", s.Timestep(1), s.Timestep(1000))
	}
}

func TestNewRejectsInvalidTables(t *testing.T) {
	cases := []struct {
		name  string
		alpha []float64
		steps int
	}{
		{name: "empty", alpha: nil, steps: 1},
		{name: "increasing", alpha: []float64{0.9, 0.95, 0.5}, steps: 2},
		{name: "zero", alpha: []float64{0.9, 0.0}, steps: 2},
		{name: "too many steps", alpha: []float64{0.9, 0.5}, steps: 3},
		{name: "no steps", alpha: []float64{0.9, 0.5}, steps: 0},
	}
	for _, tc := range cases {
		if _, err := New(tc.alpha, tc.steps); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestCosineBetasProduceValidSchedule(t *testing.T) {
	if _, err := New(AlphasCumprod(CosineBetas(1000)), 100, WithFinalAlphaBar(0.9999)); err != nil {
		t.Fatalf("cosine schedule rejected: %v", err)
	}
	if _, err := New(AlphasCumprod(LinearBetas(1000, 0.0001, 0.02)), 50); err != nil {
		t.Fatalf("linear schedule rejected: %v", err)
	}
}

func TestResidualSolveApplyRoundTrip(t *testing.T) {
	s := ldmSchedule(t, 50)
	rng := rand.New(rand.NewSource(3))
	for _, step := range []int{1, 2, 25, 50} {
		c := s.Coefficients(step)
		x := tensor.Randn(rng, 1, 16)
		eps := tensor.Randn(rng, 1, 16)
		prev := tensor.Randn(rng, 1, 16)
		mu := Mean(c, x, eps, 1)
		scale := ResidualScale(c.Variance, 1)
		z := SolveResidual(prev, mu, scale)
		got := ApplyResidual(mu, z, scale)
		if d := tensor.MaxAbsDiff(got, prev); d > 1e-9 {
			t.Fatalf("step %d: apply(solve) drift %g", step, d)
		}
	}
}

func TestResidualScaleBoundary(t *testing.T) {
	s := ldmSchedule(t, 10)
	c := s.Coefficients(1)
	if c.Variance != 0 {
		t.Fatalf("expected zero variance into the clean sample, got %g", c.Variance)
	}
	if got := ResidualScale(c.Variance, 1); got != 1 {
		t.Fatalf("boundary residual scale = %f, want 1", got)
	}
	if got := ResidualScale(s.Coefficients(5).Variance, 0); got != 0 {
		t.Fatalf("eta=0 residual scale = %f, want 0", got)
	}
}

func TestInvertStepUndoesDeterministicMean(t *testing.T) {
	s := ldmSchedule(t, 20)
	rng := rand.New(rand.NewSource(9))
	eps := tensor.Randn(rng, 4, 4)
	prev := tensor.Randn(rng, 4, 4)
	for step := 1; step <= s.Steps(); step++ {
		c := s.Coefficients(step)
		x := InvertStep(c, prev, eps)
		back := Mean(c, x, eps, 0)
		if d := tensor.MaxAbsDiff(back, prev); d > 1e-9 {
			t.Fatalf("step %d: invert/mean drift %g", step, d)
		}
	}
}

func TestNoiseMatchesClosedForm(t *testing.T) {
	s := ldmSchedule(t, 10)
	c := s.Coefficients(10)
	x0, _ := tensor.FromData([]int{1}, []float64{2})
	n, _ := tensor.FromData([]int{1}, []float64{-1})
	got := Noise(c, x0, n).Data[0]
	want := 2*math.Sqrt(c.AlphaBar) - math.Sqrt(1-c.AlphaBar)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Noise() = %f, want %f", got, want)
	}
}
