// Package audioio reads and writes the WAV files of an edit run.
package audioio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
)

// Clip is mono audio at a sample rate.
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ReadMono decodes a WAV file and mixes all channels down to mono.
func ReadMono(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("invalid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return Clip{}, fmt.Errorf("invalid wav buffer: %s", path)
	}
	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	if frames == 0 {
		return Clip{}, fmt.Errorf("wav file has no samples: %s", path)
	}
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += float64(buf.Data[i*ch+c])
		}
		out[i] = sum / float64(ch)
	}
	return Clip{Samples: out, SampleRate: buf.Format.SampleRate}, nil
}

// Resample converts the clip to rate. The result is trimmed or zero padded
// to exactly round(len*rate/from) samples so durations survive the trip.
func Resample(c Clip, rate int) (Clip, error) {
	if rate <= 0 {
		return Clip{}, fmt.Errorf("target sample rate must be > 0")
	}
	if c.SampleRate == rate {
		return c, nil
	}
	r, err := dspresample.NewForRates(
		float64(c.SampleRate),
		float64(rate),
		dspresample.WithQuality(dspresample.QualityBest),
	)
	if err != nil {
		return Clip{}, fmt.Errorf("resample %d->%d Hz: %w", c.SampleRate, rate, err)
	}
	want := int(math.Round(float64(len(c.Samples)) * float64(rate) / float64(c.SampleRate)))
	return Clip{Samples: Fit(r.Process(c.Samples), want), SampleRate: rate}, nil
}

// Fit trims or zero pads x to n samples.
func Fit(x []float64, n int) []float64 {
	if len(x) == n {
		return x
	}
	out := make([]float64, n)
	copy(out, x)
	return out
}

// WriteMono encodes a 16-bit mono WAV file, clipping samples to [-1, 1].
func WriteMono(path string, c Clip) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	data := make([]float32, len(c.Samples))
	for i, v := range c.Samples {
		data[i] = float32(math.Max(-1, math.Min(1, v)))
	}
	enc := wav.NewEncoder(f, c.SampleRate, 16, 1, 1)
	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  c.SampleRate,
			NumChannels: 1,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}
