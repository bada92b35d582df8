package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-audinv/guidance"
	"github.com/cwbudde/algo-audinv/inversion"
	"github.com/cwbudde/algo-audinv/model"
)

// Validate ensures the configuration is usable. Every check runs before
// any file is read or model contacted.
func (c *Config) Validate() error {
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateEdit(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c *Config) validateModel() error {
	spec, err := model.Lookup(c.Model.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := spec.Check(c.Model.HFToken, c.Model.Endpoint); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) validateEdit() error {
	e := c.Edit
	if e.InitAudio == "" {
		return invalid("init audio path is required")
	}
	if e.Steps < 1 {
		return invalid("steps must be >= 1, got %d", e.Steps)
	}
	if e.Mode != ModeOurs && e.Mode != ModeDDIM {
		return invalid("mode must be %q or %q, got %q", ModeOurs, ModeDDIM, e.Mode)
	}
	for _, s := range append(append([]float64(nil), e.SourceScales...), e.TargetScales...) {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return invalid("guidance scales must be finite, got %g", s)
		}
	}
	if len(e.SourceScales) == 0 || len(e.TargetScales) == 0 {
		return invalid("cfg_src and cfg_tar need at least one value")
	}
	if len(e.TStart) == 0 {
		return invalid("tstart needs at least one value")
	}
	for _, t := range e.TStart {
		if t < 1 || t > e.Steps {
			return invalid("tstart %d outside [1,%d]", t, e.Steps)
		}
	}
	if len(e.CutoffPoints) > 0 {
		if _, err := guidance.ResolveCutoffs(e.CutoffPoints, e.Steps); err != nil {
			return invalid("cutoff points: %v", err)
		}
	}

	if e.Mode == ModeDDIM {
		if err := inversion.ValidateDDIM(e.SourcePrompts, e.TargetPrompts, e.SourceScales, e.TargetScales); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if len(e.TStart) > 1 || len(e.TargetNegPrompts) > 1 {
			return invalid("ddim mode takes a single tstart and negative prompt")
		}
		return nil
	}

	if _, err := c.SourcePlan(); err != nil {
		return err
	}
	if _, err := c.Variants(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateOutput() error {
	if strings.TrimSpace(c.Output.ResultsPath) == "" {
		return invalid("results path must be set")
	}
	if c.Tracking.Enabled && strings.TrimSpace(c.Tracking.DB) == "" {
		return invalid("tracking is enabled but tracking.db is empty")
	}
	return nil
}

// cutoffsFor resolves the segment boundaries of an n-prompt list. Multiple
// prompts without explicit cutoffs split the schedule evenly.
func (c *Config) cutoffsFor(n int, name string) ([]int, error) {
	if n < 2 {
		return nil, nil
	}
	if len(c.Edit.CutoffPoints) == 0 {
		return guidance.EvenCutoffs(n, c.Edit.Steps), nil
	}
	cut, err := guidance.ResolveCutoffs(c.Edit.CutoffPoints, c.Edit.Steps)
	if err != nil {
		return nil, invalid("cutoff points: %v", err)
	}
	if len(cut) != n-1 {
		return nil, invalid("%d %s need %d cutoff points, got %d", n, name, n-1, len(cut))
	}
	return cut, nil
}

// SourcePlan builds the guidance plan of the forward process.
func (c *Config) SourcePlan() (*guidance.Plan, error) {
	e := c.Edit
	scales, err := guidance.Broadcast(e.SourceScales, len(e.SourcePrompts), "cfg_src")
	if err != nil {
		return nil, invalid("%v", err)
	}
	configs := make([]guidance.Config, len(e.SourcePrompts))
	for i, p := range e.SourcePrompts {
		configs[i] = guidance.Config{Prompt: p, Scale: scales[i]}
	}
	cut, err := c.cutoffsFor(len(configs), "source prompts")
	if err != nil {
		return nil, err
	}
	plan, err := guidance.NewPlan(e.Steps, configs, cut)
	if err != nil {
		return nil, invalid("source plan: %v", err)
	}
	return plan, nil
}

// TargetConfigs pairs every target prompt with its negative prompt and
// scale.
func (c *Config) TargetConfigs() ([]guidance.Config, error) {
	e := c.Edit
	n := len(e.TargetPrompts)
	scales, err := guidance.Broadcast(e.TargetScales, n, "cfg_tar")
	if err != nil {
		return nil, invalid("%v", err)
	}
	negs, err := guidance.Broadcast(e.TargetNegPrompts, n, "target_neg_prompt")
	if err != nil {
		return nil, invalid("%v", err)
	}
	out := make([]guidance.Config, n)
	for i, p := range e.TargetPrompts {
		out[i] = guidance.Config{Prompt: p, NegPrompt: negs[i], Scale: scales[i]}
	}
	return out, nil
}

// Variants builds the reverse-process variants. With cutoff points the
// target prompts are segments of one output sharing a single tstart;
// otherwise every target prompt is its own output with its own tstart.
func (c *Config) Variants() ([]inversion.Variant, error) {
	e := c.Edit
	targets, err := c.TargetConfigs()
	if err != nil {
		return nil, err
	}
	tstarts, err := guidance.Broadcast(e.TStart, len(targets), "tstart")
	if err != nil {
		return nil, invalid("%v", err)
	}

	if e.Segmented() && len(targets) > 1 {
		for _, t := range tstarts[1:] {
			if t != tstarts[0] {
				return nil, invalid("segmented target prompts share one tstart, got %v", e.TStart)
			}
		}
		cut, err := c.cutoffsFor(len(targets), "target prompts")
		if err != nil {
			return nil, err
		}
		plan, err := guidance.NewPlan(e.Steps, targets, cut)
		if err != nil {
			return nil, invalid("target plan: %v", err)
		}
		return []inversion.Variant{{TStart: tstarts[0], Plan: plan}}, nil
	}

	out := make([]inversion.Variant, len(targets))
	for i, t := range targets {
		out[i] = inversion.Variant{TStart: tstarts[i], Plan: guidance.Single(e.Steps, t)}
	}
	return out, nil
}
