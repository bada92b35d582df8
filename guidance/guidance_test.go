package guidance

import (
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-audinv/tensor"
)

func TestPlanSegmentsCoverStepsExactlyOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		steps := 2 + rng.Intn(300)
		k := 1 + rng.Intn(minInt(steps, 6))
		cutoffs := randomCutoffs(rng, k-1, steps)
		configs := make([]Config, k)
		for i := range configs {
			configs[i] = Config{Prompt: string(rune('a' + i)), Scale: float64(i)}
		}
		p, err := NewPlan(steps, configs, cutoffs)
		if err != nil {
			t.Fatalf("NewPlan(%d, %v): %v", steps, cutoffs, err)
		}

		hits := make([]int, steps)
		for _, seg := range p.Segments() {
			for pos := seg.Start; pos < seg.End; pos++ {
				hits[pos]++
			}
		}
		for pos, h := range hits {
			if h != 1 {
				t.Fatalf("position %d covered %d times (steps=%d cutoffs=%v)", pos, h, steps, cutoffs)
			}
		}
		for step := 1; step <= steps; step++ {
			seg := p.Segments()[p.Index(step)]
			if step-1 < seg.Start || step-1 >= seg.End {
				t.Fatalf("step %d mapped to segment %+v", step, seg)
			}
			if p.At(step) != seg.Config {
				t.Fatalf("At(%d) = %+v, want %+v", step, p.At(step), seg.Config)
			}
		}
	}
}

func randomCutoffs(rng *rand.Rand, n, steps int) []int {
	perm := rng.Perm(steps - 1)[:n]
	out := make([]int, n)
	for i, v := range perm {
		out[i] = v + 1
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestNewPlanRejectsBadCutoffs(t *testing.T) {
	cfgs := []Config{{Prompt: "a"}, {Prompt: "b"}, {Prompt: "c"}}
	tests := []struct {
		name    string
		cutoffs []int
	}{
		{name: "count", cutoffs: []int{10}},
		{name: "zero", cutoffs: []int{0, 10}},
		{name: "equal", cutoffs: []int{10, 10}},
		{name: "decreasing", cutoffs: []int{20, 10}},
		{name: "at end", cutoffs: []int{10, 100}},
	}
	for _, tt := range tests {
		if _, err := NewPlan(100, cfgs, tt.cutoffs); err == nil {
			t.Fatalf("%s: expected error for %v", tt.name, tt.cutoffs)
		}
	}
}

func TestResolveCutoffsFractionalAndAbsolute(t *testing.T) {
	got, err := ResolveCutoffs([]float64{0.25, 0.5, 150}, 200)
	if err != nil {
		t.Fatalf("ResolveCutoffs: %v", err)
	}
	want := []int{50, 100, 150}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ResolveCutoffs()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	for _, bad := range [][]float64{{0}, {-0.5}, {0.5, 0.25}, {200}, {12.5}} {
		if _, err := ResolveCutoffs(bad, 200); err == nil {
			t.Fatalf("ResolveCutoffs(%v) expected error", bad)
		}
	}
}

func TestEvenCutoffs(t *testing.T) {
	got := EvenCutoffs(3, 200)
	if len(got) != 2 || got[0] != 66 || got[1] != 133 {
		t.Fatalf("EvenCutoffs(3, 200) = %v", got)
	}
	if EvenCutoffs(1, 200) != nil {
		t.Fatalf("expected no cutoffs for a single segment")
	}
}

func TestMix(t *testing.T) {
	u, _ := tensor.FromData([]int{2}, []float64{1, -1})
	c, _ := tensor.FromData([]int{2}, []float64{2, 1})
	got := Mix(u, c, 3)
	if got.Data[0] != 4 || got.Data[1] != 5 {
		t.Fatalf("Mix() = %v, want [4 5]", got.Data)
	}
	same := Mix(u, c, 1)
	if same.Data[0] != 2 || same.Data[1] != 1 {
		t.Fatalf("scale 1 must return the conditional estimate, got %v", same.Data)
	}
}

func TestBroadcast(t *testing.T) {
	got, err := Broadcast([]int{100}, 3, "tstart")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(got) != 3 || got[0] != 100 || got[1] != 100 || got[2] != 100 {
		t.Fatalf("Broadcast() = %v", got)
	}
	same, err := Broadcast([]int{50, 150}, 2, "tstart")
	if err != nil || same[0] != 50 || same[1] != 150 {
		t.Fatalf("Broadcast() = %v, %v", same, err)
	}
	if _, err := Broadcast([]int{1, 2}, 3, "tstart"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestPlanPromptsDistinct(t *testing.T) {
	p, err := NewPlan(10, []Config{{Prompt: "dog"}, {Prompt: "dog", NegPrompt: "noise"}}, []int{5})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	got := p.Prompts()
	if len(got) != 3 {
		t.Fatalf("Prompts() = %q, want 3 distinct entries", got)
	}
}
