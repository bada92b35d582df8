package model

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cwbudde/algo-audinv/schedule"
	"github.com/cwbudde/algo-audinv/spectrogram"
	"github.com/cwbudde/algo-audinv/tensor"
)

// GaussianOptions configures the reference backbone.
type GaussianOptions struct {
	SampleRate int
	FrameLen   int
	// LatentScale maps waveform amplitude to latent units.
	LatentScale float64
	// Amplitude of a prompt's tonal template in latent units.
	Amplitude float64
	// DataVariance of the latent prior around the template.
	DataVariance float64
}

// DefaultGaussianOptions returns the options used by the catalog entry.
func DefaultGaussianOptions() GaussianOptions {
	return GaussianOptions{
		SampleRate:   16000,
		FrameLen:     256,
		LatentScale:  4,
		Amplitude:    1.5,
		DataVariance: 1,
	}
}

// Gaussian is an in-process backbone whose latent prior under prompt p is
// N(m_p, v*I), where m_p is a sinusoid whose pitch is derived from the
// prompt text. Its noise estimate is the exact posterior mean E[eps | x_t],
// so guidance, inversion and editing behave like with a learned network
// while staying deterministic and cheap.
type Gaussian struct {
	opts   GaussianOptions
	alphas []float64
}

// NewGaussian validates opts and returns the backbone.
func NewGaussian(opts GaussianOptions) (*Gaussian, error) {
	if opts.SampleRate <= 0 || opts.FrameLen <= 0 {
		return nil, fmt.Errorf("gaussian backbone: sample rate and frame length must be > 0")
	}
	if opts.LatentScale <= 0 || opts.DataVariance <= 0 {
		return nil, fmt.Errorf("gaussian backbone: latent scale and data variance must be > 0")
	}
	return &Gaussian{
		opts:   opts,
		alphas: schedule.AlphasCumprod(schedule.ScaledLinearBetas(1000, 0.00085, 0.012)),
	}, nil
}

// Info reports a 1000-step scaled-linear schedule at the configured rate.
func (g *Gaussian) Info() Info {
	return Info{
		Name:            BuiltinGaussian,
		SampleRate:      g.opts.SampleRate,
		AlphasCumprod:   g.alphas,
		FinalAlphaBar:   1,
		StepsOffset:     1,
		DecodesWaveform: true,
	}
}

// Features returns the default mel configuration for the sample rate.
func (g *Gaussian) Features() spectrogram.Config {
	return spectrogram.DefaultConfig(g.opts.SampleRate)
}

// EncodeText embeds a prompt as (frequency Hz, amplitude). The empty prompt
// has zero amplitude.
func (g *Gaussian) EncodeText(_ context.Context, prompt string) (Conditioning, error) {
	key := strings.ToLower(strings.Join(strings.Fields(prompt), " "))
	if key == "" {
		return Conditioning{Prompt: prompt, Embedding: []float64{0, 0}}, nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	semitone := float64(h.Sum32() % 37)
	freq := 110 * math.Pow(2, semitone/12)
	return Conditioning{Prompt: prompt, Embedding: []float64{freq, g.opts.Amplitude}}, nil
}

func (g *Gaussian) template(x *tensor.Latent, c Conditioning) (*tensor.Latent, error) {
	if len(c.Embedding) != 2 {
		return nil, fmt.Errorf("gaussian backbone: conditioning for %q has %d dims, want 2", c.Prompt, len(c.Embedding))
	}
	m := tensor.ZerosLike(x)
	freq, amp := c.Embedding[0], c.Embedding[1]
	if amp == 0 {
		return m, nil
	}
	w := 2 * math.Pi * freq / float64(g.opts.SampleRate)
	for n := range m.Data {
		m.Data[n] = amp * math.Sin(w*float64(n))
	}
	return m, nil
}

// PredictNoise returns sqrt(1-a)*(x - sqrt(a)*m) / (a*v + 1 - a) for each
// conditioning.
func (g *Gaussian) PredictNoise(ctx context.Context, x *tensor.Latent, timestep int, conds []Conditioning) ([]*tensor.Latent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timestep < 0 || timestep >= len(g.alphas) {
		return nil, fmt.Errorf("gaussian backbone: timestep %d outside [0,%d)", timestep, len(g.alphas))
	}
	a := g.alphas[timestep]
	den := a*g.opts.DataVariance + 1 - a
	k := math.Sqrt(1-a) / den
	sa := math.Sqrt(a)
	out := make([]*tensor.Latent, len(conds))
	for i, c := range conds {
		m, err := g.template(x, c)
		if err != nil {
			return nil, err
		}
		eps := tensor.ZerosLike(x)
		for j := range eps.Data {
			eps.Data[j] = k * (x.Data[j] - sa*m.Data[j])
		}
		out[i] = eps
	}
	return out, nil
}

// Encode frames the waveform into a [1, frames, FrameLen] latent, zero
// padding the last frame.
func (g *Gaussian) Encode(_ context.Context, waveform []float64) (*tensor.Latent, error) {
	if len(waveform) == 0 {
		return nil, fmt.Errorf("gaussian backbone: empty waveform")
	}
	frames := (len(waveform) + g.opts.FrameLen - 1) / g.opts.FrameLen
	z := tensor.New(1, frames, g.opts.FrameLen)
	for i, v := range waveform {
		z.Data[i] = v * g.opts.LatentScale
	}
	return z, nil
}

// Decode flattens the latent back to audio. Callers trim the padding.
func (g *Gaussian) Decode(_ context.Context, z *tensor.Latent) (*Decoded, error) {
	if z == nil || z.Len() == 0 {
		return nil, fmt.Errorf("gaussian backbone: empty latent")
	}
	wave := make([]float64, z.Len())
	for i, v := range z.Data {
		wave[i] = v / g.opts.LatentScale
	}
	return &Decoded{Waveform: wave}, nil
}
