// Package spectrogram computes STFT magnitudes and log-mel features of mono
// audio and renders them as images.
package spectrogram

import (
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/cwbudde/algo-fft"

	"github.com/cwbudde/algo-audinv/tensor"
)

// Config describes the feature extraction of one backbone.
type Config struct {
	SampleRate int
	FFTSize    int
	Hop        int
	Mels       int
	FMin       float64
	FMax       float64
}

// DefaultConfig matches the 16 kHz, 64-band mel front-end of latent audio
// diffusion models.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate: sampleRate,
		FFTSize:    1024,
		Hop:        160,
		Mels:       64,
		FMin:       0,
		FMax:       float64(sampleRate) / 2,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0")
	}
	if c.FFTSize < 16 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft size must be a power of two >= 16, got %d", c.FFTSize)
	}
	if c.Hop < 1 || c.Hop > c.FFTSize {
		return fmt.Errorf("hop must be in [1,%d], got %d", c.FFTSize, c.Hop)
	}
	if c.Mels < 1 {
		return fmt.Errorf("mels must be >= 1")
	}
	if c.FMin < 0 || c.FMax <= c.FMin || c.FMax > float64(c.SampleRate)/2 {
		return fmt.Errorf("invalid mel range [%g,%g] at %d Hz", c.FMin, c.FMax, c.SampleRate)
	}
	return nil
}

// Frames returns the number of STFT frames for n input samples.
func (c Config) Frames(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 + (n-1)/c.Hop
}

// Magnitude returns |STFT| as [frames][FFTSize/2+1]. Frames are centered:
// the signal is zero padded by FFTSize/2 on both sides.
func Magnitude(x []float64, c Config) ([][]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	n := c.FFTSize
	plan, err := algofft.NewPlanReal64(n)
	if err != nil {
		return nil, fmt.Errorf("fft plan: %w", err)
	}
	hann := make([]float64, n)
	for i := range hann {
		hann[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}

	frames := c.Frames(len(x))
	bins := n/2 + 1
	out := make([][]float64, frames)
	buf := make([]float64, n)
	spec := make([]complex128, bins)
	half := n / 2
	for f := 0; f < frames; f++ {
		start := f*c.Hop - half
		for i := 0; i < n; i++ {
			j := start + i
			if j >= 0 && j < len(x) {
				buf[i] = x[j] * hann[i]
			} else {
				buf[i] = 0
			}
		}
		plan.Forward(spec, buf)
		row := make([]float64, bins)
		for k := range row {
			row[k] = cmplx.Abs(spec[k])
		}
		out[f] = row
	}
	return out, nil
}

// LogMel returns log(max(mel, 1e-5)) features shaped [1, 1, frames, mels].
func LogMel(x []float64, c Config) (*tensor.Latent, error) {
	mag, err := Magnitude(x, c)
	if err != nil {
		return nil, err
	}
	bank := FilterBank(c)
	out := tensor.New(1, 1, len(mag), c.Mels)
	for f, row := range mag {
		for m, filt := range bank {
			var sum float64
			for k, w := range filt {
				if w != 0 {
					sum += w * row[k]
				}
			}
			out.Data[f*c.Mels+m] = math.Log(math.Max(sum, 1e-5))
		}
	}
	return out, nil
}
