// Package tracking records edit runs, their configuration and their
// artifacts in an experiment-tracking store.
package tracking

import (
	"context"
	"time"
)

// Artifact kinds.
const (
	KindAudio  = "audio"
	KindImage  = "image"
	KindReport = "report"
)

// Artifact is one file produced by a run.
type Artifact struct {
	Kind string
	Name string
	Path string
	Data []byte
}

// Run is the record of one invocation.
type Run struct {
	ID        string
	Name      string
	Group     string
	Model     string
	Mode      string
	Seed      int64
	StartedAt time.Time
	Duration  time.Duration
	OutputDir string
	// Config is the TOML snapshot of the run configuration.
	Config    string
	Metrics   map[string]float64
	Artifacts []Artifact
}

// Sink receives finished runs.
type Sink interface {
	// Record stores r and returns its ID. An empty r.ID gets a fresh one.
	Record(ctx context.Context, r Run) (string, error)
	Close() error
}

// Nop is the sink used when tracking is disabled.
type Nop struct{}

func (Nop) Record(_ context.Context, r Run) (string, error) { return r.ID, nil }

func (Nop) Close() error { return nil }
