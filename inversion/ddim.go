package inversion

import (
	"context"
	"fmt"

	"github.com/cwbudde/algo-audinv/guidance"
	"github.com/cwbudde/algo-audinv/model"
	"github.com/cwbudde/algo-audinv/schedule"
	"github.com/cwbudde/algo-audinv/tensor"
)

// ValidateDDIM rejects multi-prompt or multi-scale configurations, which the
// DDIM baseline does not support.
func ValidateDDIM(sourcePrompts, targetPrompts []string, sourceScales, targetScales []float64) error {
	switch {
	case len(sourcePrompts) > 1:
		return fmt.Errorf("%w: ddim mode takes a single source prompt, got %d", ErrConfig, len(sourcePrompts))
	case len(targetPrompts) > 1:
		return fmt.Errorf("%w: ddim mode takes a single target prompt, got %d", ErrConfig, len(targetPrompts))
	case len(sourceScales) > 1:
		return fmt.Errorf("%w: ddim mode takes a single source guidance scale, got %d", ErrConfig, len(sourceScales))
	case len(targetScales) > 1:
		return fmt.Errorf("%w: ddim mode takes a single target guidance scale, got %d", ErrConfig, len(targetScales))
	}
	return nil
}

// DDIMInvert runs the deterministic inversion under cfg and returns the
// latent at step T - skip.
func DDIMInvert(ctx context.Context, b model.Backbone, s *schedule.Schedule, x0 *tensor.Latent, cfg guidance.Config, skip int, progress Progress) (*tensor.Latent, error) {
	fwd, err := Forward(ctx, b, s, x0, ForwardOptions{
		Plan:     guidance.Single(s.Steps(), cfg),
		Skip:     skip,
		Progress: progress,
	})
	if err != nil {
		return nil, err
	}
	return fwd.Trajectory.At(fwd.Trajectory.Len()), nil
}

// DDIMGenerate denoises xStart from step start down to the clean sample
// with eta = 0.
func DDIMGenerate(ctx context.Context, b model.Backbone, s *schedule.Schedule, xStart *tensor.Latent, start int, cfg guidance.Config, progress Progress) (*tensor.Latent, error) {
	if start < 1 || start > s.Steps() {
		return nil, fmt.Errorf("%w: start step %d outside [1,%d]", ErrConfig, start, s.Steps())
	}
	if xStart == nil || xStart.Len() == 0 {
		return nil, fmt.Errorf("%w: empty start latent", ErrConfig)
	}
	est := newEstimator(b)
	x := xStart.Clone()
	for i := start; i >= 1; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := s.Coefficients(i)
		eps, err := est.guided(ctx, x, c.Timestep, cfg)
		if err != nil {
			return nil, fmt.Errorf("ddim step %d: %w", i, err)
		}
		x = schedule.Mean(c, x, eps, 0)
		if progress != nil {
			progress(start-i+1, start)
		}
	}
	return x, nil
}
