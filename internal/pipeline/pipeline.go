// Package pipeline drives one edit run: it validates the configuration,
// opens the backbone, inverts and regenerates the input clip, and writes
// the artifact set atomically.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/cwbudde/algo-audinv/analysis"
	"github.com/cwbudde/algo-audinv/guidance"
	"github.com/cwbudde/algo-audinv/internal/audioio"
	"github.com/cwbudde/algo-audinv/internal/config"
	"github.com/cwbudde/algo-audinv/inversion"
	"github.com/cwbudde/algo-audinv/model"
	"github.com/cwbudde/algo-audinv/schedule"
	"github.com/cwbudde/algo-audinv/spectrogram"
	"github.com/cwbudde/algo-audinv/tensor"
	"github.com/cwbudde/algo-audinv/tracking"
)

// driftWarnThreshold is the largest consistency rewrite of a trajectory
// latent that passes without a warning.
const driftWarnThreshold = 1e-3

// ProgressFactory returns the progress callback of a named stage, or nil.
type ProgressFactory func(stage string) inversion.Progress

// Deps are the collaborators of a run. Zero values select defaults.
type Deps struct {
	Logger   *slog.Logger
	Dial     model.DialFunc
	Sink     tracking.Sink
	Progress ProgressFactory
	Now      func() time.Time
}

// Artifact is a written file.
type Artifact struct {
	Kind string
	Path string
}

// Output is one regenerated clip.
type Output struct {
	Stem    string
	TStart  int
	Metrics analysis.Metrics
}

// Result summarizes a finished run.
type Result struct {
	RunID     string
	Seed      int64
	Model     string
	OutputDir string
	Duration  float64
	Outputs   []Output
	Artifacts []Artifact
}

type edit struct {
	tstart int
	latent *tensor.Latent
}

// Run executes one edit. Either the complete artifact set is written or
// nothing is.
func Run(ctx context.Context, cfg config.Config, deps Deps) (*Result, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := cfg.Edit

	b, spec, err := model.Open(ctx, cfg.Model.ID, model.OpenOptions{
		Token:    cfg.Model.HFToken,
		Endpoint: cfg.Model.Endpoint,
		Dial:     deps.Dial,
	})
	if err != nil {
		return nil, err
	}
	info := b.Info()
	log.Info("backbone ready", "model", spec.ID, "sample_rate", info.SampleRate, "decodes_waveform", info.DecodesWaveform)

	clip, err := audioio.ReadMono(e.InitAudio)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if clip.SampleRate != info.SampleRate {
		log.Debug("resampling input", "from", clip.SampleRate, "to", info.SampleRate)
		if clip, err = audioio.Resample(clip, info.SampleRate); err != nil {
			return nil, err
		}
	}
	log.Info("input loaded", "path", e.InitAudio, "seconds", clip.Duration())

	skip := e.Skip()
	if e.Mode == config.ModeDDIM && skip != 0 {
		log.Warn("plain DDIM inversion should run with tstart equal to steps; running partial DDIM inversion",
			"tstart", e.MaxTStart(), "steps", e.Steps)
	}

	s, err := model.NewSchedule(b, e.Steps)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule: %w", model.ErrConfig, err)
	}
	x0, err := b.Encode(ctx, clip.Samples)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	seed := started.UnixNano()
	if e.Seed != nil {
		seed = *e.Seed
	}
	rng := inversion.NewRand(seed)
	progress := func(name string) inversion.Progress {
		if deps.Progress == nil {
			return nil
		}
		return deps.Progress(name)
	}

	var edits []edit
	switch e.Mode {
	case config.ModeDDIM:
		edits, err = runDDIM(ctx, b, s, x0, &cfg, progress)
	default:
		edits, err = runInversion(ctx, b, s, x0, &cfg, rng, progress, log)
	}
	if err != nil {
		return nil, err
	}

	orig, err := decode(ctx, b, x0, len(clip.Samples))
	if err != nil {
		return nil, fmt.Errorf("decode original: %w", err)
	}

	res := &Result{
		Seed:     seed,
		Model:    spec.ID,
		Duration: clip.Duration(),
		OutputDir: OutputDir(cfg.Output.ResultsPath, spec.Basename(), e.InitAudio,
			e.SourcePrompts, e.TargetPrompts, e.TargetNegPrompts),
	}
	stem := ArtifactStem(StemOptions{
		SourceScales: e.SourceScales,
		TargetScales: e.TargetScales,
		Skips:        skips(&cfg),
		FullDDIM:     e.Mode == config.ModeDDIM && skip == 0,
		Steps:        e.Steps,
		Unix:         started.Unix(),
	})

	st, err := newStage(res.OutputDir)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			st.discard()
		}
	}()

	features := b.Features()
	var pending []Artifact
	write := func(name, kind string, wave []float64) error {
		switch kind {
		case tracking.KindAudio:
			return audioio.WriteMono(st.path(name), audioio.Clip{Samples: wave, SampleRate: info.SampleRate})
		default:
			return writePNG(st.path(name), wave, features)
		}
	}
	add := func(name, kind string, wave []float64) error {
		if err := write(name, kind, wave); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		pending = append(pending, Artifact{Kind: kind})
		return nil
	}

	if err := add("orig.wav", tracking.KindAudio, orig); err != nil {
		return nil, err
	}
	if err := add("orig.png", tracking.KindImage, orig); err != nil {
		return nil, err
	}
	report := make(map[string]analysis.Metrics, len(edits))
	for k, ed := range edits {
		if !ed.latent.IsFinite() {
			log.Warn("edited latent has non-finite values", "variant", k+1)
		}
		wave, err := decode(ctx, b, ed.latent, len(clip.Samples))
		if err != nil {
			return nil, fmt.Errorf("decode edit %d: %w", k+1, err)
		}
		name := variantStem(stem, k, len(edits))
		if err := add(name+".wav", tracking.KindAudio, wave); err != nil {
			return nil, err
		}
		if err := add(name+".png", tracking.KindImage, wave); err != nil {
			return nil, err
		}
		m := analysis.Compare(orig, wave, info.SampleRate)
		report[name] = m
		res.Outputs = append(res.Outputs, Output{Stem: name, TStart: ed.tstart, Metrics: m})
	}
	if err := writeReport(st.path(stem+"_report.toml"), report); err != nil {
		return nil, err
	}
	pending = append(pending, Artifact{Kind: tracking.KindReport})

	paths, err := st.commit()
	if err != nil {
		return nil, err
	}
	committed = true
	for i, p := range paths {
		pending[i].Path = p
	}
	res.Artifacts = pending
	log.Info("artifacts written", "dir", res.OutputDir, "files", len(paths))

	if err := record(ctx, &cfg, deps, res, started, now, log); err != nil {
		return res, err
	}
	return res, nil
}

func runInversion(ctx context.Context, b model.Backbone, s *schedule.Schedule, x0 *tensor.Latent, cfg *config.Config, rng *inversion.Rand, progress func(string) inversion.Progress, log *slog.Logger) ([]edit, error) {
	srcPlan, err := cfg.SourcePlan()
	if err != nil {
		return nil, err
	}
	variants, err := cfg.Variants()
	if err != nil {
		return nil, err
	}
	fwd, err := inversion.Forward(ctx, b, s, x0, inversion.ForwardOptions{
		Plan:     srcPlan,
		Eta:      config.Eta,
		Skip:     cfg.Edit.Skip(),
		Solver:   inversion.SolverFor(cfg.Edit.NumericalFix),
		Rand:     rng,
		Progress: progress("invert"),
	})
	if err != nil {
		return nil, fmt.Errorf("forward process: %w", err)
	}
	var worst inversion.StepInfo
	for _, si := range fwd.Extra {
		if si.Drift > worst.Drift {
			worst = si
		}
	}
	if worst.Drift > driftWarnThreshold {
		log.Warn("residual solve rewrote the trajectory", "step", worst.Step, "timestep", worst.Timestep, "drift", worst.Drift)
	}

	rev, err := inversion.Reverse(ctx, b, s, fwd, inversion.ReverseOptions{
		Variants:    variants,
		Eta:         config.Eta,
		RandomStart: cfg.Edit.RandomStart,
		Rand:        rng,
		Progress:    progress("edit"),
	})
	if err != nil {
		return nil, fmt.Errorf("reverse process: %w", err)
	}
	out := make([]edit, len(rev.Latents))
	for i, l := range rev.Latents {
		out[i] = edit{tstart: variants[i].TStart, latent: l}
	}
	return out, nil
}

func runDDIM(ctx context.Context, b model.Backbone, s *schedule.Schedule, x0 *tensor.Latent, cfg *config.Config, progress func(string) inversion.Progress) ([]edit, error) {
	e := cfg.Edit
	skip := e.Skip()
	src := guidance.Config{Prompt: e.SourcePrompts[0], Scale: e.SourceScales[0]}
	tar := guidance.Config{Prompt: e.TargetPrompts[0], NegPrompt: e.TargetNegPrompts[0], Scale: e.TargetScales[0]}
	xT, err := inversion.DDIMInvert(ctx, b, s, x0, src, skip, progress("invert"))
	if err != nil {
		return nil, fmt.Errorf("ddim inversion: %w", err)
	}
	out, err := inversion.DDIMGenerate(ctx, b, s, xT, e.Steps-skip, tar, progress("edit"))
	if err != nil {
		return nil, fmt.Errorf("ddim generation: %w", err)
	}
	return []edit{{tstart: e.Steps - skip, latent: out}}, nil
}

// decode turns a latent into audio of exactly n samples.
func decode(ctx context.Context, b model.Backbone, z *tensor.Latent, n int) ([]float64, error) {
	d, err := b.Decode(ctx, z)
	if err != nil {
		return nil, err
	}
	wave, err := model.Waveform(ctx, b, d)
	if err != nil {
		return nil, err
	}
	return audioio.Fit(wave, n), nil
}

func skips(cfg *config.Config) []int {
	out := make([]int, len(cfg.Edit.TStart))
	for i, t := range cfg.Edit.TStart {
		out[i] = cfg.Edit.Steps - t
	}
	return out
}

func writePNG(path string, wave []float64, c spectrogram.Config) error {
	mel, err := spectrogram.LogMel(wave, c)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := spectrogram.EncodePNG(f, mel); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeReport(path string, report map[string]analysis.Metrics) error {
	data, err := toml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// record stores the run in the tracking sink. A failure here leaves the
// written artifacts in place.
func record(ctx context.Context, cfg *config.Config, deps Deps, res *Result, started time.Time, now func() time.Time, log *slog.Logger) error {
	if !cfg.Tracking.Enabled {
		return nil
	}
	sink := deps.Sink
	if sink == nil {
		store, err := tracking.Open(ctx, cfg.Tracking.DB)
		if err != nil {
			return fmt.Errorf("open tracking store: %w", err)
		}
		defer store.Close()
		sink = store
	}

	snapshot := *cfg
	snapshot.Model.HFToken = ""
	cfgText, err := toml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}
	run := tracking.Run{
		Name:      cfg.Tracking.Name,
		Group:     cfg.Tracking.Group,
		Model:     res.Model,
		Mode:      cfg.Edit.Mode,
		Seed:      res.Seed,
		StartedAt: started,
		Duration:  now().Sub(started),
		OutputDir: res.OutputDir,
		Config:    string(cfgText),
		Metrics:   make(map[string]float64),
	}
	if run.Name == "" && len(res.Outputs) > 0 {
		run.Name = res.Outputs[0].Stem
	}
	for _, o := range res.Outputs {
		run.Metrics[o.Stem+".score"] = o.Metrics.Score
		run.Metrics[o.Stem+".similarity"] = o.Metrics.Similarity
	}
	for _, a := range res.Artifacts {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return fmt.Errorf("read artifact for tracking: %w", err)
		}
		run.Artifacts = append(run.Artifacts, tracking.Artifact{Kind: a.Kind, Name: filepath.Base(a.Path), Path: a.Path, Data: data})
	}
	id, err := sink.Record(ctx, run)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	res.RunID = id
	log.Info("run tracked", "id", id)
	return nil
}
