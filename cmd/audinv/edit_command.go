package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cwbudde/algo-audinv/internal/config"
	"github.com/cwbudde/algo-audinv/internal/logging"
	"github.com/cwbudde/algo-audinv/internal/pipeline"
	"github.com/cwbudde/algo-audinv/internal/remote"
)

// editFlags mirrors the command line. Only flags the user set override the
// configuration file.
type editFlags struct {
	configPath string

	model    string
	endpoint string
	hfToken  string

	initAudio   string
	srcPrompts  []string
	tarPrompts  []string
	negPrompts  []string
	cfgSrc      []float64
	cfgTar      []float64
	tstart      []int
	steps       int
	cutoffs     []float64
	mode        string
	seed        int64
	numFix      bool
	randomStart bool

	resultsPath string
	progress    bool

	track    bool
	trackDB  string
	runName  string
	runGroup string

	logLevel  string
	logFormat string
}

func addEditFlags(fs *pflag.FlagSet, f *editFlags) {
	def := config.Default()

	fs.StringVarP(&f.configPath, "config", "c", "", "TOML configuration file")

	fs.StringVar(&f.model, "model", def.Model.ID, "Checkpoint ID (see 'audinv models')")
	fs.StringVar(&f.endpoint, "endpoint", "", "Model server URL (env AUDINV_ENDPOINT)")
	fs.StringVar(&f.hfToken, "hf-token", "", "Hugging Face token (env HF_TOKEN)")

	fs.StringVar(&f.initAudio, "init-aud", "", "Input WAV file")
	fs.StringArrayVar(&f.srcPrompts, "source-prompt", def.Edit.SourcePrompts, "Source prompt (repeatable)")
	fs.StringArrayVar(&f.tarPrompts, "target-prompt", def.Edit.TargetPrompts, "Target prompt (repeatable)")
	fs.StringArrayVar(&f.negPrompts, "target-neg-prompt", def.Edit.TargetNegPrompts, "Target negative prompt (repeatable)")
	fs.Float64SliceVar(&f.cfgSrc, "cfg-src", def.Edit.SourceScales, "Source guidance scales")
	fs.Float64SliceVar(&f.cfgTar, "cfg-tar", def.Edit.TargetScales, "Target guidance scales")
	fs.IntSliceVar(&f.tstart, "tstart", def.Edit.TStart, "Start timesteps of the edit, one per output")
	fs.IntVar(&f.steps, "steps", def.Edit.Steps, "Number of diffusion steps")
	fs.Float64SliceVar(&f.cutoffs, "cutoff-points", nil, "Prompt segment boundaries, fractions in (0,1) or step indices")
	fs.StringVar(&f.mode, "mode", def.Edit.Mode, "Inversion mode: ours|ddim")
	fs.Int64Var(&f.seed, "seed", 0, "Random seed (default derived from the clock)")
	fs.BoolVar(&f.numFix, "numerical-fix", def.Edit.NumericalFix, "Keep the inverted trajectory consistent with the recorded residuals")
	fs.BoolVar(&f.randomStart, "random-start", false, "Start the edit from fresh noise instead of the inverted latent")

	fs.StringVar(&f.resultsPath, "results-path", def.Output.ResultsPath, "Root directory for artifacts")
	fs.BoolVar(&f.progress, "progress", def.Output.Progress, "Draw progress bars on a terminal")

	fs.BoolVar(&f.track, "track", false, "Record the run in the tracking database")
	fs.StringVar(&f.trackDB, "track-db", def.Tracking.DB, "Tracking database path")
	fs.StringVar(&f.runName, "run-name", "", "Tracked run name")
	fs.StringVar(&f.runGroup, "run-group", "", "Tracked run group")

	fs.StringVar(&f.logLevel, "log-level", def.Logging.Level, "Log level: debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", def.Logging.Format, "Log format: console|json")
}

// apply overlays the changed flags onto cfg.
func (f *editFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("model", func() { cfg.Model.ID = f.model })
	set("endpoint", func() { cfg.Model.Endpoint = f.endpoint })
	set("hf-token", func() { cfg.Model.HFToken = f.hfToken })

	set("init-aud", func() { cfg.Edit.InitAudio = f.initAudio })
	set("source-prompt", func() { cfg.Edit.SourcePrompts = f.srcPrompts })
	set("target-prompt", func() { cfg.Edit.TargetPrompts = f.tarPrompts })
	set("target-neg-prompt", func() { cfg.Edit.TargetNegPrompts = f.negPrompts })
	set("cfg-src", func() { cfg.Edit.SourceScales = f.cfgSrc })
	set("cfg-tar", func() { cfg.Edit.TargetScales = f.cfgTar })
	set("tstart", func() { cfg.Edit.TStart = f.tstart })
	set("steps", func() { cfg.Edit.Steps = f.steps })
	set("cutoff-points", func() { cfg.Edit.CutoffPoints = f.cutoffs })
	set("mode", func() { cfg.Edit.Mode = f.mode })
	set("seed", func() {
		seed := f.seed
		cfg.Edit.Seed = &seed
	})
	set("numerical-fix", func() { cfg.Edit.NumericalFix = f.numFix })
	set("random-start", func() { cfg.Edit.RandomStart = f.randomStart })

	set("results-path", func() { cfg.Output.ResultsPath = f.resultsPath })
	set("progress", func() { cfg.Output.Progress = f.progress })

	set("track", func() { cfg.Tracking.Enabled = f.track })
	set("track-db", func() { cfg.Tracking.DB = f.trackDB })
	set("run-name", func() { cfg.Tracking.Name = f.runName })
	set("run-group", func() { cfg.Tracking.Group = f.runGroup })

	set("log-level", func() { cfg.Logging.Level = f.logLevel })
	set("log-format", func() { cfg.Logging.Format = f.logFormat })
}

func newEditCommand() *cobra.Command {
	var flags editFlags

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Invert a clip and regenerate it under target prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath, false)
			if err != nil {
				return err
			}
			flags.apply(cmd.Flags(), &cfg)
			cfg.ApplyEnv(os.Getenv)

			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			deps := pipeline.Deps{Logger: logger, Dial: remote.Dial}
			if cfg.Output.Progress && isTerminal(cmd.ErrOrStderr()) {
				deps.Progress = progressBars(cmd.ErrOrStderr())
			}

			res, err := pipeline.Run(cmd.Context(), cfg, deps)
			if res != nil {
				printSummary(cmd, res)
			}
			return err
		},
	}
	addEditFlags(cmd.Flags(), &flags)
	return cmd
}

func printSummary(cmd *cobra.Command, res *pipeline.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model %s, seed %d, %.2fs of audio\n", res.Model, res.Seed, res.Duration)
	if res.RunID != "" {
		fmt.Fprintf(out, "tracked as %s\n", res.RunID)
	}

	rows := make([][]string, 0, len(res.Outputs))
	for _, o := range res.Outputs {
		rows = append(rows, []string{
			o.Stem,
			strconv.Itoa(o.TStart),
			strconv.FormatFloat(o.Metrics.Similarity, 'f', 3, 64),
			strconv.FormatFloat(o.Metrics.LogSpectralDB, 'f', 2, 64),
			strconv.FormatFloat(o.Metrics.LogMelRMSE, 'f', 3, 64),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Output", "tstart", "Similarity", "LSD dB", "Mel RMSE"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))

	rows = rows[:0]
	for _, a := range res.Artifacts {
		rel, err := filepath.Rel(res.OutputDir, a.Path)
		if err != nil {
			rel = a.Path
		}
		rows = append(rows, []string{a.Kind, rel})
	}
	fmt.Fprintf(out, "artifacts in %s\n", res.OutputDir)
	fmt.Fprintln(out, renderTable([]string{"Kind", "File"}, rows, nil))
}
