package analysis

import (
	"math"
	"math/rand"
	"testing"
)

func TestCompareIdenticalSignalsHasLowDistance(t *testing.T) {
	sr := 16000
	x := makeTone(sr, 440.0, 1.0)
	m := Compare(x, x, sr)
	if m.Score > 0.01 || m.LagSamples != 0 {
		t.Fatalf("expected zero distance for identical signals, got score=%f lag=%d", m.Score, m.LagSamples)
	}
	if m.Similarity < 0.95 || m.Correlation < 0.999 {
		t.Fatalf("expected high similarity for identical signals, got %f corr=%f", m.Similarity, m.Correlation)
	}
	if m.AlignedFrames != len(x) {
		t.Fatalf("aligned frames mismatch: got=%d want=%d", m.AlignedFrames, len(x))
	}
}

func TestCompareDifferentSignalsHasHigherDistance(t *testing.T) {
	sr := 16000
	a := makeTone(sr, 261.63, 1.0)
	b := randomSignal(sr, 3)
	m := Compare(a, b, sr)
	if m.Score < 0.25 {
		t.Fatalf("expected higher score for different signals, got %f", m.Score)
	}
	if m.LogSpectralDB <= 0 || m.LogMelRMSE <= 0 {
		t.Fatalf("spectral distances must be positive: lsd=%f mel=%f", m.LogSpectralDB, m.LogMelRMSE)
	}
}

func TestCompareEmptyInputIsMaximallyDistant(t *testing.T) {
	m := Compare(nil, []float64{1}, 16000)
	if m.Score != 1 || m.Similarity != 0 {
		t.Fatalf("unexpected metrics for empty input: %+v", m)
	}
}

func TestEstimateLagFindsPositiveShift(t *testing.T) {
	const (
		n      = 8192
		shift  = 237
		maxLag = 600
	)
	ref := randomSignal(n, 7)
	cand := make([]float64, n)
	copy(cand, ref[shift:])

	got, err := estimateLag(ref, cand, maxLag)
	if err != nil {
		t.Fatalf("estimateLag: %v", err)
	}
	if got != shift {
		t.Fatalf("estimateLag() = %d, want %d", got, shift)
	}
}

func TestEstimateLagFindsNegativeShift(t *testing.T) {
	const (
		n      = 8192
		shift  = -191
		maxLag = 600
	)
	ref := randomSignal(n, 11)
	cand := make([]float64, n)
	copy(cand[-shift:], ref)

	got, err := estimateLag(ref, cand, maxLag)
	if err != nil {
		t.Fatalf("estimateLag: %v", err)
	}
	if got != shift {
		t.Fatalf("estimateLag() = %d, want %d", got, shift)
	}
}

func makeTone(sr int, freq float64, durationSec float64) []float64 {
	n := int(float64(sr) * durationSec)
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return out
}

func randomSignal(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}
