package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-audinv/tensor"
)

func TestLookupKnownAndUnknown(t *testing.T) {
	s, err := Lookup("cvssp/audioldm2-music")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if s.Basename() != "audioldm2-music" || s.DecodesWaveform {
		t.Fatalf("unexpected spec: %+v", s)
	}
	if _, err := Lookup("cvssp/nope"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestCheckRequiresTokenForStableAudio(t *testing.T) {
	s, err := Lookup("stabilityai/stable-audio-open-1.0")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if err := s.Check("", "http://localhost:8700"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected token error, got %v", err)
	}
	if err := s.Check("hf_x", ""); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected endpoint error, got %v", err)
	}
	if err := s.Check("hf_x", "http://localhost:8700"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, _ := Lookup(BuiltinGaussian)
	if err := g.Check("", ""); err != nil {
		t.Fatalf("builtin backbone must open without credentials: %v", err)
	}
}

func TestGaussianEncodeDecodeRoundTrip(t *testing.T) {
	g, err := NewGaussian(DefaultGaussianOptions())
	if err != nil {
		t.Fatalf("NewGaussian: %v", err)
	}
	wave := make([]float64, 1000)
	for i := range wave {
		wave[i] = 0.3 * math.Sin(float64(i)*0.05)
	}
	z, err := g.Encode(context.Background(), wave)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(z.Shape) != 3 || z.Shape[1] != 4 || z.Shape[2] != 256 {
		t.Fatalf("latent shape mismatch: %v", z.Shape)
	}
	dec, err := g.Decode(context.Background(), z)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range wave {
		if math.Abs(dec.Waveform[i]-wave[i]) > 1e-12 {
			t.Fatalf("sample %d mismatch: got=%f want=%f", i, dec.Waveform[i], wave[i])
		}
	}
}

func TestGaussianNoiseEstimateIsPosteriorMean(t *testing.T) {
	g, _ := NewGaussian(DefaultGaussianOptions())
	ctx := context.Background()
	uncond, _ := g.EncodeText(ctx, "")
	cond, _ := g.EncodeText(ctx, "a dog barking")
	if cond.Embedding[0] < 110 || cond.Embedding[0] > 880 {
		t.Fatalf("prompt pitch out of range: %f", cond.Embedding[0])
	}
	again, _ := g.EncodeText(ctx, "  A dog   barking ")
	if again.Embedding[0] != cond.Embedding[0] {
		t.Fatalf("prompt normalization changed the embedding")
	}

	// With x_t equal to sqrt(a)*template the conditional estimate is zero.
	x := tensor.New(1, 2, 256)
	a := g.alphas[500]
	m, _ := g.template(x, cond)
	for i := range x.Data {
		x.Data[i] = math.Sqrt(a) * m.Data[i]
	}
	eps, err := g.PredictNoise(ctx, x, 500, []Conditioning{uncond, cond})
	if err != nil {
		t.Fatalf("PredictNoise: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected two estimates, got %d", len(eps))
	}
	if r := eps[1].RMS(); r > 1e-12 {
		t.Fatalf("conditional estimate at template should vanish, rms=%g", r)
	}
	if eps[0].RMS() == 0 {
		t.Fatalf("unconditional estimate should not vanish")
	}
	if _, err := g.PredictNoise(ctx, x, 1000, []Conditioning{cond}); err == nil {
		t.Fatalf("expected timestep range error")
	}
}

func TestNewScheduleUsesBackboneTable(t *testing.T) {
	g, _ := NewGaussian(DefaultGaussianOptions())
	s, err := NewSchedule(g, 200)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if s.Steps() != 200 || s.AlphaBar(0) != 1 || s.AlphaBar(1) != g.alphas[1] {
		t.Fatalf("schedule mismatch: steps=%d abar0=%f abar1=%f", s.Steps(), s.AlphaBar(0), s.AlphaBar(1))
	}
}

type stubBackbone struct {
	*Gaussian
	decodesWaveform bool
}

func (s stubBackbone) Info() Info {
	info := s.Gaussian.Info()
	info.Name = "stub"
	info.DecodesWaveform = s.decodesWaveform
	return info
}

func TestOpenDispatch(t *testing.T) {
	ctx := context.Background()
	b, spec, err := Open(ctx, BuiltinGaussian, OpenOptions{})
	if err != nil {
		t.Fatalf("Open builtin: %v", err)
	}
	if _, ok := b.(*Gaussian); !ok || spec.ID != BuiltinGaussian {
		t.Fatalf("unexpected backbone %T for %s", b, spec.ID)
	}
	if _, _, err := Open(ctx, DefaultID, OpenOptions{Endpoint: "http://x"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without dialer, got %v", err)
	}

	var dialed string
	dial := func(_ context.Context, s Spec, endpoint, token string) (Backbone, error) {
		dialed = endpoint
		g, _ := NewGaussian(DefaultGaussianOptions())
		return stubBackbone{Gaussian: g, decodesWaveform: s.DecodesWaveform}, nil
	}
	if _, _, err := Open(ctx, DefaultID, OpenOptions{Endpoint: "http://x", Dial: dial}); err != nil {
		t.Fatalf("Open remote: %v", err)
	}
	if dialed != "http://x" {
		t.Fatalf("dial endpoint mismatch: %q", dialed)
	}
	lying := func(_ context.Context, s Spec, _, _ string) (Backbone, error) {
		g, _ := NewGaussian(DefaultGaussianOptions())
		return stubBackbone{Gaussian: g, decodesWaveform: !s.DecodesWaveform}, nil
	}
	if _, _, err := Open(ctx, DefaultID, OpenOptions{Endpoint: "http://x", Dial: lying}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for mismatched layout, got %v", err)
	}
}

func TestWaveformNeedsVocoderForSpectrograms(t *testing.T) {
	g, _ := NewGaussian(DefaultGaussianOptions())
	ctx := context.Background()
	w, err := Waveform(ctx, g, &Decoded{Waveform: []float64{1, 2}})
	if err != nil || len(w) != 2 {
		t.Fatalf("waveform passthrough failed: %v %v", w, err)
	}
	if _, err := Waveform(ctx, g, &Decoded{Spectrogram: tensor.New(1, 1, 2, 64)}); err == nil {
		t.Fatalf("expected error without vocoder")
	}
}
