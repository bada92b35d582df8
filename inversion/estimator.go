package inversion

import (
	"context"
	"fmt"

	"github.com/cwbudde/algo-audinv/guidance"
	"github.com/cwbudde/algo-audinv/model"
	"github.com/cwbudde/algo-audinv/tensor"
)

// estimator produces classifier-free guided noise estimates and caches the
// prompt encodings of one process run.
type estimator struct {
	b     model.Backbone
	conds map[string]model.Conditioning
}

func newEstimator(b model.Backbone) *estimator {
	return &estimator{b: b, conds: make(map[string]model.Conditioning)}
}

func (e *estimator) condition(ctx context.Context, prompt string) (model.Conditioning, error) {
	if c, ok := e.conds[prompt]; ok {
		return c, nil
	}
	c, err := e.b.EncodeText(ctx, prompt)
	if err != nil {
		return model.Conditioning{}, fmt.Errorf("encode prompt %q: %w", prompt, err)
	}
	e.conds[prompt] = c
	return c, nil
}

// guided returns uncond + scale*(cond - uncond) where the unconditional
// branch uses the config's negative prompt.
func (e *estimator) guided(ctx context.Context, x *tensor.Latent, timestep int, cfg guidance.Config) (*tensor.Latent, error) {
	un, err := e.condition(ctx, cfg.NegPrompt)
	if err != nil {
		return nil, err
	}
	co, err := e.condition(ctx, cfg.Prompt)
	if err != nil {
		return nil, err
	}
	eps, err := e.b.PredictNoise(ctx, x, timestep, []model.Conditioning{un, co})
	if err != nil {
		return nil, fmt.Errorf("predict noise at timestep %d: %w", timestep, err)
	}
	if len(eps) != 2 {
		return nil, fmt.Errorf("predict noise at timestep %d: got %d estimates, want 2", timestep, len(eps))
	}
	for _, v := range eps {
		if err := tensor.CheckShape(x, v); err != nil {
			return nil, fmt.Errorf("predict noise at timestep %d: %w", timestep, err)
		}
	}
	return guidance.Mix(eps[0], eps[1], cfg.Scale), nil
}
