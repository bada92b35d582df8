package inversion

import (
	"context"
	"fmt"

	"github.com/cwbudde/algo-audinv/guidance"
	"github.com/cwbudde/algo-audinv/model"
	"github.com/cwbudde/algo-audinv/schedule"
	"github.com/cwbudde/algo-audinv/tensor"
)

// Variant is one regeneration from the shared trajectory.
type Variant struct {
	// TStart is the step the variant starts denoising from. Smaller values
	// keep more of the source.
	TStart int
	Plan   *guidance.Plan
}

// ReverseOptions configures Reverse.
type ReverseOptions struct {
	Variants []Variant
	Eta      float64
	// RandomStart replaces the recorded start latent and residuals with
	// fresh draws from Rand.
	RandomStart bool
	Rand        *Rand
	Progress    Progress
}

// ReverseResult holds one clean latent per variant.
type ReverseResult struct {
	Latents []*tensor.Latent
	// Consumed counts the residual steps each variant walked.
	Consumed []int
}

// Reverse regenerates every variant by walking the recorded trajectory from
// x_TStart down to step 1, adding scale*z_i after each posterior mean. The
// trajectory and residuals are only read.
func Reverse(ctx context.Context, b model.Backbone, s *schedule.Schedule, fwd *ForwardResult, opts ReverseOptions) (*ReverseResult, error) {
	if err := checkReverse(s, fwd, opts); err != nil {
		return nil, err
	}
	total := 0
	for _, v := range opts.Variants {
		total += v.TStart
	}

	est := newEstimator(b)
	res := &ReverseResult{
		Latents:  make([]*tensor.Latent, len(opts.Variants)),
		Consumed: make([]int, len(opts.Variants)),
	}
	done := 0
	for k, v := range opts.Variants {
		var x *tensor.Latent
		if opts.RandomStart {
			x = opts.Rand.Normal(fwd.Trajectory.At(v.TStart).Shape...)
		} else {
			x = fwd.Trajectory.At(v.TStart).Clone()
		}
		for i := v.TStart; i >= 1; i-- {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c, scale := reverseCoeffs(s, fwd, i, opts.Eta)
			eps, err := est.guided(ctx, x, c.Timestep, v.Plan.At(i))
			if err != nil {
				return nil, fmt.Errorf("variant %d step %d: %w", k, i, err)
			}
			mu := schedule.Mean(c, x, eps, opts.Eta)
			var z *tensor.Latent
			switch {
			case opts.Eta == 0:
			case opts.RandomStart:
				z = opts.Rand.Normal(x.Shape...)
			default:
				z = residualAt(fwd.Residuals, i)
			}
			if z != nil && tensor.SameShape(z, x) {
				x = schedule.ApplyResidual(mu, z, scale)
			} else {
				x = mu
			}
			res.Consumed[k]++

			done++
			if opts.Progress != nil {
				opts.Progress(done, total)
			}
		}
		res.Latents[k] = x
	}
	return res, nil
}

// reverseCoeffs prefers the coefficients recorded by the forward pass. The
// recorded residual scale is only valid for the eta it was solved with.
func reverseCoeffs(s *schedule.Schedule, fwd *ForwardResult, i int, eta float64) (schedule.Coeffs, float64) {
	if i <= len(fwd.Extra) && fwd.Extra[i-1].Step == i {
		info := fwd.Extra[i-1]
		c := info.coeffs()
		if eta == fwd.Eta && eta > 0 {
			return c, info.ResidualScale
		}
		return c, schedule.ResidualScale(c.Variance, eta)
	}
	c := s.Coefficients(i)
	return c, schedule.ResidualScale(c.Variance, eta)
}

func residualAt(zs []*tensor.Latent, i int) *tensor.Latent {
	if i > len(zs) {
		return nil
	}
	z := zs[i-1]
	if z == nil || z.Len() == 0 {
		return nil
	}
	return z
}

func checkReverse(s *schedule.Schedule, fwd *ForwardResult, opts ReverseOptions) error {
	if s == nil {
		return fmt.Errorf("%w: nil schedule", ErrConfig)
	}
	if fwd == nil || fwd.Trajectory == nil || fwd.Trajectory.Len() == 0 {
		return fmt.Errorf("%w: empty forward trajectory", ErrConfig)
	}
	if len(opts.Variants) == 0 {
		return fmt.Errorf("%w: no variants to generate", ErrConfig)
	}
	if opts.Eta < 0 || opts.Eta > 1 {
		return fmt.Errorf("%w: eta %g outside [0,1]", ErrConfig, opts.Eta)
	}
	if opts.RandomStart && opts.Rand == nil {
		return fmt.Errorf("%w: random start needs a random context", ErrConfig)
	}
	for k, v := range opts.Variants {
		if v.TStart < 1 || v.TStart > fwd.Trajectory.Len() {
			return fmt.Errorf("%w: variant %d tstart %d outside [1,%d]", ErrConfig, k, v.TStart, fwd.Trajectory.Len())
		}
		if v.Plan == nil {
			return fmt.Errorf("%w: variant %d has no guidance plan", ErrConfig, k)
		}
		if v.Plan.Steps() != s.Steps() {
			return fmt.Errorf("%w: variant %d plan covers %d steps, schedule has %d", ErrConfig, k, v.Plan.Steps(), s.Steps())
		}
	}
	return nil
}
