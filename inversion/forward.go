// Package inversion implements edit-friendly diffusion inversion: a forward
// pass that records a latent trajectory together with the exact noise
// residuals that regenerate it, a reverse pass that re-walks that
// trajectory under new guidance, and a plain DDIM baseline.
package inversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwbudde/algo-audinv/guidance"
	"github.com/cwbudde/algo-audinv/model"
	"github.com/cwbudde/algo-audinv/schedule"
	"github.com/cwbudde/algo-audinv/tensor"
)

// ErrConfig marks invalid process options.
var ErrConfig = errors.New("inversion configuration")

// Progress is called after each completed step.
type Progress func(done, total int)

// Solver turns the sampled previous latent and the model's posterior mean
// into the step residual.
type Solver interface {
	// Resolve returns the residual z and the previous latent the trajectory
	// keeps for the next step.
	Resolve(prev, mean *tensor.Latent, scale float64) (z, kept *tensor.Latent)
}

// DirectSolver solves z = (prev - mean) / scale and keeps the sampled
// latent unchanged.
type DirectSolver struct{}

func (DirectSolver) Resolve(prev, mean *tensor.Latent, scale float64) (*tensor.Latent, *tensor.Latent) {
	return schedule.SolveResidual(prev, mean, scale), prev
}

// ConsistentSolver solves the same residual and then rebuilds the previous
// latent as mean + scale*z, so replaying the residual reproduces the kept
// trajectory exactly in floating point.
type ConsistentSolver struct{}

func (ConsistentSolver) Resolve(prev, mean *tensor.Latent, scale float64) (*tensor.Latent, *tensor.Latent) {
	z := schedule.SolveResidual(prev, mean, scale)
	return z, schedule.ApplyResidual(mean, z, scale)
}

// SolverFor maps the numerical-fix switch to a solver.
func SolverFor(numericalFix bool) Solver {
	if numericalFix {
		return ConsistentSolver{}
	}
	return DirectSolver{}
}

// StepInfo holds the per-step statistics recorded by the forward pass.
type StepInfo struct {
	Step          int
	Timestep      int
	AlphaBar      float64
	AlphaBarPrev  float64
	Variance      float64
	ResidualScale float64
	// Drift is max |kept - sampled| of the previous latent; zero for the
	// direct solver.
	Drift float64
}

func (si StepInfo) coeffs() schedule.Coeffs {
	return schedule.Coeffs{
		Step:         si.Step,
		Timestep:     si.Timestep,
		AlphaBar:     si.AlphaBar,
		AlphaBarPrev: si.AlphaBarPrev,
		Variance:     si.Variance,
	}
}

// Trajectory holds the latents x_1..x_S of a forward pass.
type Trajectory struct {
	latents []*tensor.Latent
}

// Len returns S.
func (t *Trajectory) Len() int { return len(t.latents) }

// At returns x_i for i in 1..Len. The latent must not be modified.
func (t *Trajectory) At(i int) *tensor.Latent { return t.latents[i-1] }

// ForwardOptions configures Forward.
type ForwardOptions struct {
	Plan *guidance.Plan
	// Eta mixes deterministic (0) and fully stochastic (1) steps.
	Eta float64
	// Skip leaves the Skip noisiest steps out of the trajectory.
	Skip     int
	Solver   Solver
	Rand     *Rand
	Progress Progress
}

// ForwardResult is the recorded inversion.
type ForwardResult struct {
	Trajectory *Trajectory
	// Residuals z_1..z_S, nil when Eta is 0.
	Residuals []*tensor.Latent
	Extra     []StepInfo
	Eta       float64
}

// Forward inverts x0 into a trajectory of S = T - Skip latents.
//
// With Eta > 0 each x_i is drawn independently from q(x_i | x0) and the
// residual of every step is solved from the guided posterior mean. With
// Eta == 0 the trajectory is the deterministic DDIM inversion and no
// residuals are recorded.
func Forward(ctx context.Context, b model.Backbone, s *schedule.Schedule, x0 *tensor.Latent, opts ForwardOptions) (*ForwardResult, error) {
	if err := checkForward(s, x0, opts); err != nil {
		return nil, err
	}
	if opts.Eta == 0 {
		return forwardDeterministic(ctx, b, s, x0, opts)
	}
	solver := opts.Solver
	if solver == nil {
		solver = ConsistentSolver{}
	}

	steps := s.Steps() - opts.Skip
	xs := make([]*tensor.Latent, steps+1)
	xs[0] = x0.Clone()
	for i := 1; i <= steps; i++ {
		xs[i] = schedule.Noise(s.Coefficients(i), x0, opts.Rand.Normal(x0.Shape...))
	}

	est := newEstimator(b)
	residuals := make([]*tensor.Latent, steps)
	extra := make([]StepInfo, steps)
	done := 0
	for i := steps; i >= 1; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := s.Coefficients(i)
		eps, err := est.guided(ctx, xs[i], c.Timestep, opts.Plan.At(i))
		if err != nil {
			return nil, fmt.Errorf("forward step %d: %w", i, err)
		}
		mu := schedule.Mean(c, xs[i], eps, opts.Eta)
		scale := schedule.ResidualScale(c.Variance, opts.Eta)
		z, kept := solver.Resolve(xs[i-1], mu, scale)
		extra[i-1] = stepInfo(c, scale, tensor.MaxAbsDiff(kept, xs[i-1]))
		xs[i-1] = kept
		residuals[i-1] = z

		done++
		if opts.Progress != nil {
			opts.Progress(done, steps)
		}
	}

	return &ForwardResult{
		Trajectory: &Trajectory{latents: xs[1:]},
		Residuals:  residuals,
		Extra:      extra,
		Eta:        opts.Eta,
	}, nil
}

func forwardDeterministic(ctx context.Context, b model.Backbone, s *schedule.Schedule, x0 *tensor.Latent, opts ForwardOptions) (*ForwardResult, error) {
	steps := s.Steps() - opts.Skip
	est := newEstimator(b)
	xs := make([]*tensor.Latent, steps)
	extra := make([]StepInfo, steps)
	x := x0
	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := s.Coefficients(i)
		eps, err := est.guided(ctx, x, c.Timestep, opts.Plan.At(i))
		if err != nil {
			return nil, fmt.Errorf("forward step %d: %w", i, err)
		}
		x = schedule.InvertStep(c, x, eps)
		xs[i-1] = x
		extra[i-1] = stepInfo(c, 0, 0)
		if opts.Progress != nil {
			opts.Progress(i, steps)
		}
	}
	return &ForwardResult{Trajectory: &Trajectory{latents: xs}, Extra: extra}, nil
}

func stepInfo(c schedule.Coeffs, scale, drift float64) StepInfo {
	return StepInfo{
		Step:          c.Step,
		Timestep:      c.Timestep,
		AlphaBar:      c.AlphaBar,
		AlphaBarPrev:  c.AlphaBarPrev,
		Variance:      c.Variance,
		ResidualScale: scale,
		Drift:         drift,
	}
}

func checkForward(s *schedule.Schedule, x0 *tensor.Latent, opts ForwardOptions) error {
	if s == nil {
		return fmt.Errorf("%w: nil schedule", ErrConfig)
	}
	if x0 == nil || x0.Len() == 0 {
		return fmt.Errorf("%w: empty initial latent", ErrConfig)
	}
	if opts.Plan == nil {
		return fmt.Errorf("%w: missing guidance plan", ErrConfig)
	}
	if opts.Plan.Steps() != s.Steps() {
		return fmt.Errorf("%w: guidance plan covers %d steps, schedule has %d", ErrConfig, opts.Plan.Steps(), s.Steps())
	}
	if opts.Skip < 0 || opts.Skip >= s.Steps() {
		return fmt.Errorf("%w: skip %d outside [0,%d)", ErrConfig, opts.Skip, s.Steps())
	}
	if opts.Eta < 0 || opts.Eta > 1 {
		return fmt.Errorf("%w: eta %g outside [0,1]", ErrConfig, opts.Eta)
	}
	if opts.Eta > 0 && opts.Rand == nil {
		return fmt.Errorf("%w: stochastic inversion needs a random context", ErrConfig)
	}
	return nil
}
