package model

import (
	"context"
	"fmt"

	"github.com/cwbudde/algo-audinv/tensor"
)

// Vocoder is implemented by backbones whose Decode yields a mel
// spectrogram.
type Vocoder interface {
	Vocode(ctx context.Context, mel *tensor.Latent) ([]float64, error)
}

// DialFunc connects to a model server hosting spec.
type DialFunc func(ctx context.Context, spec Spec, endpoint, token string) (Backbone, error)

// OpenOptions carries the credentials and transport used by Open.
type OpenOptions struct {
	Token    string
	Endpoint string
	// Dial is required for remote checkpoints.
	Dial DialFunc
}

// Open resolves id in the catalog, checks its credentials, and returns a
// ready backbone.
func Open(ctx context.Context, id string, opts OpenOptions) (Backbone, Spec, error) {
	spec, err := Lookup(id)
	if err != nil {
		return nil, Spec{}, err
	}
	if err := spec.Check(opts.Token, opts.Endpoint); err != nil {
		return nil, Spec{}, err
	}
	if !spec.Remote {
		g, err := NewGaussian(DefaultGaussianOptions())
		if err != nil {
			return nil, Spec{}, err
		}
		return g, spec, nil
	}
	if opts.Dial == nil {
		return nil, Spec{}, fmt.Errorf("%w: no transport configured for %s", ErrConfig, spec.ID)
	}
	b, err := opts.Dial(ctx, spec, opts.Endpoint, opts.Token)
	if err != nil {
		return nil, Spec{}, fmt.Errorf("open %s: %w", spec.ID, err)
	}
	if info := b.Info(); info.DecodesWaveform != spec.DecodesWaveform {
		return nil, Spec{}, fmt.Errorf("%w: server reports decodes_waveform=%t for %s", ErrConfig, info.DecodesWaveform, spec.ID)
	}
	return b, spec, nil
}

// Waveform returns the audio of a decoded latent, vocoding mel output when
// the backbone does not decode to audio directly.
func Waveform(ctx context.Context, b Backbone, d *Decoded) ([]float64, error) {
	if d == nil {
		return nil, fmt.Errorf("decode returned nothing")
	}
	if len(d.Waveform) > 0 {
		return d.Waveform, nil
	}
	if d.Spectrogram == nil {
		return nil, fmt.Errorf("decode returned neither waveform nor spectrogram")
	}
	v, ok := b.(Vocoder)
	if !ok {
		return nil, fmt.Errorf("%s decodes to a spectrogram but has no vocoder", b.Info().Name)
	}
	return v.Vocode(ctx, d.Spectrogram)
}
