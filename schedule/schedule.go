// Package schedule holds the noise schedule of a diffusion backbone and the
// per-step update rules shared by inversion and generation.
//
// Steps are indexed 1..T from least to most noisy. Step 0 denotes the clean
// sample. Every coefficient the forward and reverse processes need comes
// from Coeffs, so solving for a residual and applying it are exact inverses
// of each other.
package schedule

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-audinv/tensor"
)

// Schedule is an immutable alpha-bar table sampled at inference timesteps.
type Schedule struct {
	train     []float64
	final     float64
	timesteps []int
}

// Option configures New.
type Option func(*options)

type options struct {
	final  float64
	offset int
}

// WithFinalAlphaBar sets the alpha-bar of the clean sample (step 0).
// Defaults to 1.
func WithFinalAlphaBar(v float64) Option {
	return func(o *options) { o.final = v }
}

// WithStepsOffset shifts every inference timestep by n. Defaults to 1.
func WithStepsOffset(n int) Option {
	return func(o *options) { o.offset = n }
}

// New validates alphasCumprod over the training timesteps and selects
// steps evenly strided inference timesteps from it.
func New(alphasCumprod []float64, steps int, opts ...Option) (*Schedule, error) {
	o := options{final: 1, offset: 1}
	for _, opt := range opts {
		opt(&o)
	}
	n := len(alphasCumprod)
	if n == 0 {
		return nil, fmt.Errorf("empty alpha-bar table")
	}
	if steps < 1 || steps > n {
		return nil, fmt.Errorf("steps must be in [1,%d], got %d", n, steps)
	}
	for i, a := range alphasCumprod {
		if !(a > 0 && a <= 1) {
			return nil, fmt.Errorf("alpha-bar[%d]=%g outside (0,1]", i, a)
		}
		if i > 0 && a >= alphasCumprod[i-1] {
			return nil, fmt.Errorf("alpha-bar must be strictly decreasing (index %d)", i)
		}
	}
	if !(o.final > 0 && o.final <= 1) {
		return nil, fmt.Errorf("final alpha-bar %g outside (0,1]", o.final)
	}

	ratio := n / steps
	offset := o.offset
	if last := (steps-1)*ratio + offset; last > n-1 {
		offset -= last - (n - 1)
	}
	if offset < 0 {
		return nil, fmt.Errorf("steps offset %d out of range", o.offset)
	}
	ts := make([]int, steps)
	for i := range ts {
		ts[i] = i*ratio + offset
	}

	return &Schedule{
		train:     append([]float64(nil), alphasCumprod...),
		final:     o.final,
		timesteps: ts,
	}, nil
}

// Steps returns T, the number of inference steps.
func (s *Schedule) Steps() int { return len(s.timesteps) }

// Timestep returns the training timestep of step i (1..T).
func (s *Schedule) Timestep(i int) int { return s.timesteps[i-1] }

// AlphaBar returns the signal-retained coefficient at step i (0..T).
func (s *Schedule) AlphaBar(i int) float64 {
	if i == 0 {
		return s.final
	}
	return s.train[s.timesteps[i-1]]
}

// Coeffs are the scalars of the transition between step i and step i-1.
type Coeffs struct {
	Step         int
	Timestep     int
	AlphaBar     float64
	AlphaBarPrev float64
	Variance     float64
}

// Coefficients returns the transition coefficients of step i (1..T).
func (s *Schedule) Coefficients(i int) Coeffs {
	if i < 1 || i > s.Steps() {
		panic(fmt.Sprintf("schedule: step %d outside [1,%d]", i, s.Steps()))
	}
	a := s.AlphaBar(i)
	ap := s.AlphaBar(i - 1)
	return Coeffs{
		Step:         i,
		Timestep:     s.Timestep(i),
		AlphaBar:     a,
		AlphaBarPrev: ap,
		Variance:     posteriorVariance(a, ap),
	}
}

func posteriorVariance(a, ap float64) float64 {
	v := (1 - ap) / (1 - a) * (1 - a/ap)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// Noise diffuses a clean latent to step c: sqrt(abar)*x0 + sqrt(1-abar)*n.
func Noise(c Coeffs, x0, n *tensor.Latent) *tensor.Latent {
	return tensor.Combine(math.Sqrt(c.AlphaBar), x0, math.Sqrt(1-c.AlphaBar), n)
}

// PredictX0 estimates the clean latent from x at alpha-bar abar.
func PredictX0(x, eps *tensor.Latent, abar float64) *tensor.Latent {
	return tensor.Combine(1/math.Sqrt(abar), x, -math.Sqrt(1-abar)/math.Sqrt(abar), eps)
}

// Mean returns the deterministic part of the step from x_i to x_{i-1}:
// sqrt(abar_prev)*x0 + sqrt(1-abar_prev-eta^2*var)*eps.
func Mean(c Coeffs, x, eps *tensor.Latent, eta float64) *tensor.Latent {
	x0 := PredictX0(x, eps, c.AlphaBar)
	dir := 1 - c.AlphaBarPrev - eta*eta*c.Variance
	if dir < 0 {
		dir = 0
	}
	return tensor.Combine(math.Sqrt(c.AlphaBarPrev), x0, math.Sqrt(dir), eps)
}

// ResidualScale is the factor the step residual is multiplied by.
// It is eta*sigma, 0 when eta is 0, and 1 when eta>0 but the variance
// vanishes at the clean boundary so the residual carries the raw difference.
func ResidualScale(variance, eta float64) float64 {
	if eta == 0 {
		return 0
	}
	s := eta * math.Sqrt(variance)
	if s == 0 {
		return 1
	}
	return s
}

// SolveResidual returns z with mean + scale*z == prev.
// A zero scale yields a zero residual.
func SolveResidual(prev, mean *tensor.Latent, scale float64) *tensor.Latent {
	z := tensor.ZerosLike(mean)
	if scale == 0 {
		return z
	}
	for i := range z.Data {
		z.Data[i] = (prev.Data[i] - mean.Data[i]) / scale
	}
	return z
}

// ApplyResidual returns mean + scale*z. A nil z is treated as zero.
func ApplyResidual(mean, z *tensor.Latent, scale float64) *tensor.Latent {
	out := mean.Clone()
	if z == nil || scale == 0 {
		return out
	}
	for i := range out.Data {
		out.Data[i] += scale * z.Data[i]
	}
	return out
}

// InvertStep is the deterministic DDIM step from x_{i-1} up to x_i using the
// noise estimate eps.
func InvertStep(c Coeffs, xPrev, eps *tensor.Latent) *tensor.Latent {
	x0 := PredictX0(xPrev, eps, c.AlphaBarPrev)
	return tensor.Combine(math.Sqrt(c.AlphaBar), x0, math.Sqrt(1-c.AlphaBar), eps)
}
