// Package guidance maps diffusion steps to prompt/scale configurations and
// mixes conditional and unconditional noise estimates.
package guidance

import (
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/algo-audinv/tensor"
)

// Config is one classifier-free guidance setting.
type Config struct {
	Prompt    string
	NegPrompt string
	Scale     float64
}

// Segment is a contiguous half-open range [Start, End) of step positions
// (position = step-1) governed by one Config.
type Segment struct {
	Start  int
	End    int
	Config Config
}

// Plan partitions the positions [0, steps) into ordered segments.
type Plan struct {
	steps    int
	ends     []int
	segments []Config
}

// Single returns a plan with one config covering every step.
func Single(steps int, c Config) *Plan {
	return &Plan{steps: steps, ends: []int{steps}, segments: []Config{c}}
}

// NewPlan builds a plan from len(cutoffs)+1 configs. Cutoffs are step
// positions and must be strictly increasing inside (0, steps).
func NewPlan(steps int, configs []Config, cutoffs []int) (*Plan, error) {
	if steps < 1 {
		return nil, fmt.Errorf("plan needs at least one step, got %d", steps)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("plan needs at least one guidance config")
	}
	if len(cutoffs) != len(configs)-1 {
		return nil, fmt.Errorf("%d guidance configs need %d cutoff points, got %d", len(configs), len(configs)-1, len(cutoffs))
	}
	if err := checkCutoffs(cutoffs, steps); err != nil {
		return nil, err
	}
	ends := append(append([]int(nil), cutoffs...), steps)
	return &Plan{steps: steps, ends: ends, segments: append([]Config(nil), configs...)}, nil
}

func checkCutoffs(cutoffs []int, steps int) error {
	prev := 0
	for i, c := range cutoffs {
		if c <= prev {
			if i == 0 {
				return fmt.Errorf("cutoff point %d must be > 0", c)
			}
			return fmt.Errorf("cutoff points must be strictly increasing (%d after %d)", c, prev)
		}
		if c >= steps {
			return fmt.Errorf("cutoff point %d outside step range [1,%d)", c, steps)
		}
		prev = c
	}
	return nil
}

// Steps returns the number of steps the plan covers.
func (p *Plan) Steps() int { return p.steps }

// Len returns the number of segments.
func (p *Plan) Len() int { return len(p.segments) }

// Index returns the segment index that governs step (1..Steps).
func (p *Plan) Index(step int) int {
	pos := step - 1
	return sort.Search(len(p.ends), func(i int) bool { return pos < p.ends[i] })
}

// At returns the config that governs step (1..Steps).
func (p *Plan) At(step int) Config {
	i := p.Index(step)
	if i >= len(p.segments) {
		i = len(p.segments) - 1
	}
	return p.segments[i]
}

// Segments lists the plan's ranges in ascending order.
func (p *Plan) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	start := 0
	for i, c := range p.segments {
		out[i] = Segment{Start: start, End: p.ends[i], Config: c}
		start = p.ends[i]
	}
	return out
}

// Prompts returns the distinct prompts (positive and negative) the plan uses.
func (p *Plan) Prompts() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range p.segments {
		for _, s := range []string{c.NegPrompt, c.Prompt} {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// ResolveCutoffs converts user cutoff points to step positions. Values in
// (0,1) are fractions of steps; values >= 1 are absolute step positions.
func ResolveCutoffs(points []float64, steps int) ([]int, error) {
	out := make([]int, len(points))
	for i, v := range points {
		switch {
		case math.IsNaN(v) || v <= 0:
			return nil, fmt.Errorf("cutoff point %g must be > 0", v)
		case v < 1:
			out[i] = int(math.Floor(v * float64(steps)))
		default:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("absolute cutoff point %g must be an integer", v)
			}
			out[i] = int(v)
		}
	}
	if err := checkCutoffs(out, steps); err != nil {
		return nil, err
	}
	return out, nil
}

// EvenCutoffs splits steps into n equal segments.
func EvenCutoffs(n, steps int) []int {
	if n < 2 {
		return nil
	}
	out := make([]int, n-1)
	for i := range out {
		out[i] = (i + 1) * steps / n
	}
	return out
}

// Mix applies classifier-free guidance: uncond + scale*(cond-uncond).
func Mix(uncond, cond *tensor.Latent, scale float64) *tensor.Latent {
	out := tensor.ZerosLike(uncond)
	for i := range out.Data {
		u := uncond.Data[i]
		out.Data[i] = u + scale*(cond.Data[i]-u)
	}
	return out
}

// Broadcast stretches a single value to n entries. Any other length that
// is not n is an error.
func Broadcast[T any](vals []T, n int, name string) ([]T, error) {
	switch {
	case len(vals) == n:
		return append([]T(nil), vals...), nil
	case len(vals) == 1:
		out := make([]T, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: got %d values, need 1 or %d", name, len(vals), n)
	}
}
