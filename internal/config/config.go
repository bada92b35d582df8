// Package config holds the run configuration of an edit: defaults, TOML
// file loading, environment fallbacks and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/cwbudde/algo-audinv/model"
)

// ErrInvalid marks a configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Edit modes.
const (
	ModeOurs = "ours"
	ModeDDIM = "ddim"
)

// Eta is the noise-mix coefficient of the edit process. The driver always
// runs fully stochastic steps.
const Eta = 1.0

// Config is the complete description of one edit run.
type Config struct {
	Model    Model    `toml:"model"`
	Edit     Edit     `toml:"edit"`
	Output   Output   `toml:"output"`
	Tracking Tracking `toml:"tracking"`
	Logging  Logging  `toml:"logging"`
}

// Model selects the backbone.
type Model struct {
	ID       string `toml:"id"`
	Endpoint string `toml:"endpoint"`
	HFToken  string `toml:"hf_token"`
}

// Edit holds the inversion and regeneration parameters.
type Edit struct {
	InitAudio        string    `toml:"init_audio"`
	SourcePrompts    []string  `toml:"source_prompts"`
	TargetPrompts    []string  `toml:"target_prompts"`
	TargetNegPrompts []string  `toml:"target_neg_prompts"`
	SourceScales     []float64 `toml:"cfg_src"`
	TargetScales     []float64 `toml:"cfg_tar"`
	TStart           []int     `toml:"tstart"`
	Steps            int       `toml:"steps"`
	CutoffPoints     []float64 `toml:"cutoff_points"`
	Mode             string    `toml:"mode"`
	// Seed is nil for a time-derived seed.
	Seed         *int64 `toml:"seed"`
	NumericalFix bool   `toml:"numerical_fix"`
	RandomStart  bool   `toml:"random_start"`
}

// Output controls where artifacts go.
type Output struct {
	ResultsPath string `toml:"results_path"`
	Progress    bool   `toml:"progress"`
}

// Tracking configures the optional experiment-tracking sink.
type Tracking struct {
	Enabled bool   `toml:"enabled"`
	DB      string `toml:"db"`
	Name    string `toml:"name"`
	Group   string `toml:"group"`
}

// Logging configures the slog logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration of a plain invocation.
func Default() Config {
	return Config{
		Model: Model{ID: model.DefaultID},
		Edit: Edit{
			SourcePrompts:    []string{""},
			TargetPrompts:    []string{""},
			TargetNegPrompts: []string{""},
			SourceScales:     []float64{3},
			TargetScales:     []float64{12},
			TStart:           []int{100},
			Steps:            200,
			Mode:             ModeOurs,
			NumericalFix:     true,
		},
		Output:   Output{ResultsPath: "results", Progress: true},
		Tracking: Tracking{DB: "audinv.db"},
		Logging:  Logging{Level: "info", Format: "console"},
	}
}

// Load reads a TOML file on top of Default. A missing path is not an
// error when optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// ApplyEnv fills unset credentials from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if strings.TrimSpace(c.Model.HFToken) == "" {
		c.Model.HFToken = strings.TrimSpace(getenv("HF_TOKEN"))
	}
	if strings.TrimSpace(c.Model.Endpoint) == "" {
		c.Model.Endpoint = strings.TrimSpace(getenv("AUDINV_ENDPOINT"))
	}
}

// Normalize trims values and fills emptied prompt lists with the
// unconditional prompt.
func (c *Config) Normalize() {
	c.Model.ID = strings.TrimSpace(c.Model.ID)
	c.Model.Endpoint = strings.TrimSpace(c.Model.Endpoint)
	c.Edit.InitAudio = strings.TrimSpace(c.Edit.InitAudio)
	c.Edit.Mode = strings.ToLower(strings.TrimSpace(c.Edit.Mode))
	if len(c.Edit.SourcePrompts) == 0 {
		c.Edit.SourcePrompts = []string{""}
	}
	if len(c.Edit.TargetPrompts) == 0 {
		c.Edit.TargetPrompts = []string{""}
	}
	if len(c.Edit.TargetNegPrompts) == 0 {
		c.Edit.TargetNegPrompts = []string{""}
	}
}

// MaxTStart returns the largest start step.
func (e Edit) MaxTStart() int {
	m := 0
	for _, t := range e.TStart {
		if t > m {
			m = t
		}
	}
	return m
}

// Skip returns the number of noisiest steps the runs leave out.
func (e Edit) Skip() int { return e.Steps - e.MaxTStart() }

// Segmented reports whether the target prompts form segments of a single
// output instead of independent variants.
func (e Edit) Segmented() bool { return len(e.CutoffPoints) > 0 }
