package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-audinv/model"
)

func validConfig() Config {
	cfg := Default()
	cfg.Model.ID = model.BuiltinGaussian
	cfg.Edit.InitAudio = "in.wav"
	cfg.Edit.TargetPrompts = []string{"a dog barking"}
	return cfg
}

func TestDefaultMatchesDriverDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Edit.Steps != 200 || cfg.Edit.TStart[0] != 100 || cfg.Edit.SourceScales[0] != 3 || cfg.Edit.TargetScales[0] != 12 {
		t.Fatalf("unexpected defaults: %+v", cfg.Edit)
	}
	if !cfg.Edit.NumericalFix || cfg.Edit.Mode != ModeOurs || cfg.Tracking.Enabled {
		t.Fatalf("unexpected switches: %+v", cfg)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audinv.toml")
	content := `
[model]
id = "builtin/gaussian"

[edit]
init_audio = "clip.wav"
target_prompts = ["a cat", "a dog"]
tstart = [50, 150]
seed = 42

[logging]
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Edit.Steps != 200 || cfg.Edit.SourceScales[0] != 3 {
		t.Fatalf("defaults lost: %+v", cfg.Edit)
	}
	if cfg.Edit.Seed == nil || *cfg.Edit.Seed != 42 || len(cfg.Edit.TStart) != 2 || cfg.Logging.Format != "json" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.toml"), true); err != nil {
		t.Fatalf("optional missing file: %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.toml"), false); err == nil {
		t.Fatalf("expected error for required missing file")
	}
	if err := os.WriteFile(path, []byte("[edit\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, false); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for bad toml, got %v", err)
	}
}

func TestApplyEnvFallsBackForToken(t *testing.T) {
	cfg := validConfig()
	env := map[string]string{"HF_TOKEN": " hf_abc ", "AUDINV_ENDPOINT": "http://models:8700"}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.Model.HFToken != "hf_abc" || cfg.Model.Endpoint != "http://models:8700" {
		t.Fatalf("env fallback mismatch: %+v", cfg.Model)
	}
	cfg.Model.HFToken = "explicit"
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.Model.HFToken != "explicit" {
		t.Fatalf("explicit token overwritten")
	}
}

func TestValidateRejectsConfigurationErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"missing audio":      func(c *Config) { c.Edit.InitAudio = "" },
		"unknown model":      func(c *Config) { c.Model.ID = "x/y" },
		"stable audio token": func(c *Config) { c.Model.ID = "stabilityai/stable-audio-open-1.0"; c.Model.Endpoint = "http://m" },
		"bad mode":           func(c *Config) { c.Edit.Mode = "fast" },
		"tstart range":       func(c *Config) { c.Edit.TStart = []int{201} },
		"tstart mismatch": func(c *Config) {
			c.Edit.TargetPrompts = []string{"a", "b", "c"}
			c.Edit.TStart = []int{10, 20}
		},
		"scale mismatch": func(c *Config) {
			c.Edit.TargetPrompts = []string{"a", "b"}
			c.Edit.TargetScales = []float64{1, 2, 3}
		},
		"cutoffs not increasing": func(c *Config) {
			c.Edit.SourcePrompts = []string{"a", "b", "c"}
			c.Edit.CutoffPoints = []float64{0.6, 0.3}
		},
		"cutoff count": func(c *Config) {
			c.Edit.SourcePrompts = []string{"a", "b"}
			c.Edit.CutoffPoints = []float64{0.2, 0.5}
		},
		"cutoffs decreasing single prompt": func(c *Config) { c.Edit.CutoffPoints = []float64{0.8, 0.3} },
		"cutoff past last step":            func(c *Config) { c.Edit.CutoffPoints = []float64{500} },
		"negative cutoff":                  func(c *Config) { c.Edit.CutoffPoints = []float64{-1} },
		"ddim two targets": func(c *Config) {
			c.Edit.Mode = ModeDDIM
			c.Edit.TargetPrompts = []string{"a", "b"}
		},
		"ddim two scales": func(c *Config) {
			c.Edit.Mode = ModeDDIM
			c.Edit.TargetScales = []float64{3, 12}
		},
		"tracking without db": func(c *Config) { c.Tracking.Enabled = true; c.Tracking.DB = "" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		cfg.Normalize()
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
	cfg := validConfig()
	cfg.Model.ID = "stabilityai/stable-audio-open-1.0"
	cfg.Model.Endpoint = "http://m"
	if err := cfg.Validate(); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("credential errors must also match model.ErrConfig, got %v", err)
	}
}

func TestVariantsBroadcastTStart(t *testing.T) {
	cfg := validConfig()
	cfg.Edit.TargetPrompts = []string{"a cat", "a dog", "a bird"}
	cfg.Edit.TStart = []int{80}
	vs, err := cfg.Variants()
	if err != nil {
		t.Fatalf("Variants: %v", err)
	}
	if len(vs) != 3 {
		t.Fatalf("variant count mismatch: got=%d want=3", len(vs))
	}
	for i, v := range vs {
		if v.TStart != 80 || v.Plan.At(1).Prompt != cfg.Edit.TargetPrompts[i] || v.Plan.At(1).Scale != 12 {
			t.Fatalf("variant %d mismatch: tstart=%d cfg=%+v", i, v.TStart, v.Plan.At(1))
		}
	}
}

func TestVariantsWithCutoffsFormOneSegmentedOutput(t *testing.T) {
	cfg := validConfig()
	cfg.Edit.TargetPrompts = []string{"low", "high"}
	cfg.Edit.TargetScales = []float64{5, 9}
	cfg.Edit.CutoffPoints = []float64{0.25}
	vs, err := cfg.Variants()
	if err != nil {
		t.Fatalf("Variants: %v", err)
	}
	if len(vs) != 1 {
		t.Fatalf("expected one segmented variant, got %d", len(vs))
	}
	p := vs[0].Plan
	if p.At(50).Prompt != "low" || p.At(51).Prompt != "high" || p.At(51).Scale != 9 {
		t.Fatalf("segment lookup mismatch: %+v %+v", p.At(50), p.At(51))
	}

	src := validConfig()
	src.Edit.SourcePrompts = []string{"a", "b", "c", "d"}
	plan, err := src.SourcePlan()
	if err != nil {
		t.Fatalf("SourcePlan: %v", err)
	}
	if segs := plan.Segments(); len(segs) != 4 || segs[1].Start != 50 || segs[3].End != 200 {
		t.Fatalf("even split mismatch: %+v", segs)
	}
}

func TestSkipUsesLargestTStart(t *testing.T) {
	e := Default().Edit
	e.TStart = []int{50, 150}
	if e.Skip() != 50 {
		t.Fatalf("skip mismatch: got=%d want=50", e.Skip())
	}
}
