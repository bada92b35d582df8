package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConfig marks an unusable backbone selection.
var ErrConfig = errors.New("model configuration")

// BuiltinGaussian is the in-process reference backbone.
const BuiltinGaussian = "builtin/gaussian"

// DefaultID is the checkpoint used when none is selected.
const DefaultID = "cvssp/audioldm2-music"

// Spec is a catalog entry.
type Spec struct {
	ID               string
	Family           string
	Remote           bool
	DecodesWaveform  bool
	RequiresToken    bool
	RecommendedSteps int
	SampleRate       int
}

// Catalog lists the supported checkpoints.
var Catalog = []Spec{
	{ID: "cvssp/audioldm-s-full-v2", Family: "audioldm", Remote: true, RecommendedSteps: 100, SampleRate: 16000},
	{ID: "cvssp/audioldm-l-full", Family: "audioldm", Remote: true, RecommendedSteps: 100, SampleRate: 16000},
	{ID: "cvssp/audioldm2", Family: "audioldm2", Remote: true, RecommendedSteps: 200, SampleRate: 16000},
	{ID: "cvssp/audioldm2-large", Family: "audioldm2", Remote: true, RecommendedSteps: 200, SampleRate: 16000},
	{ID: "cvssp/audioldm2-music", Family: "audioldm2", Remote: true, RecommendedSteps: 200, SampleRate: 16000},
	{ID: "declare-lab/tango-full-ft-audio-music-caps", Family: "tango", Remote: true, RecommendedSteps: 200, SampleRate: 16000},
	{ID: "declare-lab/tango-full-ft-audiocaps", Family: "tango", Remote: true, RecommendedSteps: 200, SampleRate: 16000},
	{ID: "stabilityai/stable-audio-open-1.0", Family: "stable-audio", Remote: true, DecodesWaveform: true, RequiresToken: true, RecommendedSteps: 200, SampleRate: 44100},
	{ID: BuiltinGaussian, Family: "gaussian", DecodesWaveform: true, RecommendedSteps: 200, SampleRate: 16000},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Spec, error) {
	id = strings.TrimSpace(id)
	for _, s := range Catalog {
		if s.ID == id {
			return s, nil
		}
	}
	ids := make([]string, len(Catalog))
	for i, s := range Catalog {
		ids[i] = s.ID
	}
	sort.Strings(ids)
	return Spec{}, fmt.Errorf("%w: unknown model %q (choose one of %s)", ErrConfig, id, strings.Join(ids, ", "))
}

// Check validates the credentials and transport required to open s.
func (s Spec) Check(token, endpoint string) error {
	if s.RequiresToken && strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: %s requires a Hugging Face token (set HF_TOKEN or --hf-token)", ErrConfig, s.ID)
	}
	if s.Remote && strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("%w: %s runs on a model server; set --endpoint", ErrConfig, s.ID)
	}
	return nil
}

// Basename returns the part of the ID after the organization prefix.
func (s Spec) Basename() string {
	if i := strings.LastIndex(s.ID, "/"); i >= 0 {
		return s.ID[i+1:]
	}
	return s.ID
}
