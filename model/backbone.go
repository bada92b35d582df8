// Package model is the uniform adapter over the audio diffusion backbones.
//
// A Backbone hides the differences between checkpoints: latent layout,
// conditioning scheme, whether decoding yields a spectrogram or audio, and
// the noise schedule it was trained with. The inversion processes only talk
// to this interface.
package model

import (
	"context"

	"github.com/cwbudde/algo-audinv/schedule"
	"github.com/cwbudde/algo-audinv/spectrogram"
	"github.com/cwbudde/algo-audinv/tensor"
)

// Info describes a loaded backbone.
type Info struct {
	Name            string
	SampleRate      int
	AlphasCumprod   []float64
	FinalAlphaBar   float64
	StepsOffset     int
	DecodesWaveform bool
}

// Conditioning is an encoded text prompt. Backends fill Ref (server-side
// handle) or Embedding (in-process vector).
type Conditioning struct {
	Prompt    string
	Ref       string
	Embedding []float64
}

// Decoded is the result of decoding a latent. Waveform is set for
// backbones that decode to audio; Spectrogram for mel backbones, whose
// waveform comes from the vocoder.
type Decoded struct {
	Waveform    []float64
	Spectrogram *tensor.Latent
}

// Backbone is a pretrained audio diffusion model.
type Backbone interface {
	Info() Info
	// Features returns the feature extraction used for encoding and for
	// spectrogram rendering.
	Features() spectrogram.Config
	// EncodeText encodes a prompt. The empty prompt is the unconditional
	// embedding.
	EncodeText(ctx context.Context, prompt string) (Conditioning, error)
	// PredictNoise returns one noise estimate per conditioning for latent x
	// at the training timestep.
	PredictNoise(ctx context.Context, x *tensor.Latent, timestep int, conds []Conditioning) ([]*tensor.Latent, error)
	Encode(ctx context.Context, waveform []float64) (*tensor.Latent, error)
	Decode(ctx context.Context, z *tensor.Latent) (*Decoded, error)
}

// NewSchedule builds the inference schedule of b with the given step count.
func NewSchedule(b Backbone, steps int) (*schedule.Schedule, error) {
	info := b.Info()
	final := info.FinalAlphaBar
	if final == 0 {
		final = 1
	}
	return schedule.New(info.AlphasCumprod, steps,
		schedule.WithFinalAlphaBar(final),
		schedule.WithStepsOffset(info.StepsOffset),
	)
}
