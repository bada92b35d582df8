// Package analysis measures how far an edited clip moved away from its
// source.
package analysis

import (
	"fmt"
	"math"

	algofft "github.com/cwbudde/algo-fft"

	"github.com/cwbudde/algo-audinv/spectrogram"
)

// Metrics contains distance and similarity measurements between two audio signals.
type Metrics struct {
	SampleRate int `json:"sample_rate" toml:"sample_rate"`

	ReferenceFrames int `json:"reference_frames" toml:"reference_frames"`
	CandidateFrames int `json:"candidate_frames" toml:"candidate_frames"`
	AlignedFrames   int `json:"aligned_frames" toml:"aligned_frames"`
	LagSamples      int `json:"lag_samples" toml:"lag_samples"`

	TimeRMSE       float64 `json:"time_rmse" toml:"time_rmse"`
	Correlation    float64 `json:"correlation" toml:"correlation"`
	EnvelopeRMSEDB float64 `json:"envelope_rmse_db" toml:"envelope_rmse_db"`
	// LogSpectralDB is the mean per-frame log spectral distance.
	LogSpectralDB float64 `json:"log_spectral_db" toml:"log_spectral_db"`
	LogMelRMSE    float64 `json:"log_mel_rmse" toml:"log_mel_rmse"`

	Score      float64 `json:"score" toml:"score"`
	Similarity float64 `json:"similarity" toml:"similarity"`
}

// Compare returns objective distance metrics and a combined score in [0,1].
// Zero means identical, one means unrelated.
func Compare(reference []float64, candidate []float64, sampleRate int) Metrics {
	m := Metrics{
		SampleRate:      sampleRate,
		ReferenceFrames: len(reference),
		CandidateFrames: len(candidate),
		Score:           1,
	}
	if sampleRate <= 0 || len(reference) == 0 || len(candidate) == 0 {
		return m
	}

	ref := normalizeRMS(reference, 0.1)
	cand := normalizeRMS(candidate, 0.1)

	maxLag := min(sampleRate/10, len(ref)-1, len(cand)-1)
	if maxLag > 0 {
		lag, err := estimateLag(ref, cand, maxLag)
		if err == nil {
			m.LagSamples = lag
		}
	}
	refA, candA := alignByLag(ref, cand, m.LagSamples)
	n := min(len(refA), len(candA))
	if n < 256 {
		return m
	}
	refA, candA = refA[:n], candA[:n]
	m.AlignedFrames = n

	m.TimeRMSE = rmse(refA, candA)
	m.Correlation = correlation(refA, candA)

	refEnv := rmsEnvelope(refA, 256, 128)
	candEnv := rmsEnvelope(candA, 256, 128)
	if envN := min(len(refEnv), len(candEnv)); envN > 0 {
		diff := make([]float64, envN)
		for i := range diff {
			diff[i] = linToDB(refEnv[i]) - linToDB(candEnv[i])
		}
		m.EnvelopeRMSEDB = rms1(diff)
	}

	cfg := spectrogram.DefaultConfig(sampleRate)
	if lsd, err := logSpectralDistance(refA, candA, cfg); err == nil {
		m.LogSpectralDB = lsd
	}
	if d, err := logMelRMSE(refA, candA, cfg); err == nil {
		m.LogMelRMSE = d
	}

	timeNorm := clamp01(m.TimeRMSE / 0.2)
	envNorm := clamp01(m.EnvelopeRMSEDB / 30.0)
	specNorm := clamp01(m.LogSpectralDB / 30.0)
	melNorm := clamp01(m.LogMelRMSE / 5.0)
	m.Score = clamp01(0.25*timeNorm + 0.2*envNorm + 0.3*specNorm + 0.25*melNorm)
	m.Similarity = clamp01(math.Exp(-4.0 * m.Score))
	return m
}

func normalizeRMS(x []float64, target float64) []float64 {
	r := rms1(x)
	if r <= 1e-12 {
		return append([]float64(nil), x...)
	}
	g := target / r
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] * g
	}
	return out
}

// estimateLag returns the shift in [-maxLag, maxLag] that maximizes the
// cross-correlation sum ref[i+lag]*cand[i]. The correlation is computed as
// an FFT convolution of ref with the reversed candidate.
func estimateLag(ref []float64, cand []float64, maxLag int) (int, error) {
	if len(ref) == 0 || len(cand) == 0 {
		return 0, nil
	}
	a := make([]float32, len(ref))
	for i, v := range ref {
		a[i] = float32(v)
	}
	b := make([]float32, len(cand))
	for i, v := range cand {
		b[len(cand)-1-i] = float32(v)
	}
	conv := make([]float32, len(a)+len(b)-1)
	if err := algofft.ConvolveReal(conv, a, b); err != nil {
		return 0, fmt.Errorf("cross-correlation: %w", err)
	}
	zero := len(cand) - 1
	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		k := zero + lag
		if k < 0 || k >= len(conv) {
			continue
		}
		if v := float64(conv[k]); v > best {
			best = v
			bestLag = lag
		}
	}
	return bestLag, nil
}

func alignByLag(ref []float64, cand []float64, lag int) ([]float64, []float64) {
	if lag >= 0 {
		if lag >= len(ref) {
			return nil, nil
		}
		return ref[lag:], cand
	}
	o := -lag
	if o >= len(cand) {
		return nil, nil
	}
	return ref, cand[o:]
}

func rmse(a []float64, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func correlation(a []float64, b []float64) float64 {
	var ab, aa, bb float64
	for i := range a {
		ab += a[i] * b[i]
		aa += a[i] * a[i]
		bb += b[i] * b[i]
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return ab / math.Sqrt(aa*bb)
}

func rms1(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func rmsEnvelope(x []float64, frame int, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	n := 1 + (len(x)-frame)/hop
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hop
		out[i] = rms1(x[start : start+frame])
	}
	return out
}

func logSpectralDistance(a, b []float64, cfg spectrogram.Config) (float64, error) {
	sa, err := spectrogram.Magnitude(a, cfg)
	if err != nil {
		return 0, err
	}
	sb, err := spectrogram.Magnitude(b, cfg)
	if err != nil {
		return 0, err
	}
	frames := min(len(sa), len(sb))
	if frames == 0 {
		return 0, nil
	}
	var total float64
	for f := 0; f < frames; f++ {
		var sum float64
		for k := 1; k < len(sa[f]); k++ {
			d := linToDB(sa[f][k]) - linToDB(sb[f][k])
			sum += d * d
		}
		total += math.Sqrt(sum / float64(len(sa[f])-1))
	}
	return total / float64(frames), nil
}

func logMelRMSE(a, b []float64, cfg spectrogram.Config) (float64, error) {
	ma, err := spectrogram.LogMel(a, cfg)
	if err != nil {
		return 0, err
	}
	mb, err := spectrogram.LogMel(b, cfg)
	if err != nil {
		return 0, err
	}
	return rmse(ma.Data, mb.Data), nil
}

func linToDB(x float64) float64 {
	if x < 1e-12 {
		x = 1e-12
	}
	return 20.0 * math.Log10(x)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
