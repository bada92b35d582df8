package audioio

import (
	"math"
	"path/filepath"
	"testing"
)

func sine(sr int, freq float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return out
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tone.wav")
	in := Clip{Samples: sine(16000, 440, 4000), SampleRate: 16000}
	if err := WriteMono(path, in); err != nil {
		t.Fatalf("WriteMono: %v", err)
	}
	out, err := ReadMono(path)
	if err != nil {
		t.Fatalf("ReadMono: %v", err)
	}
	if out.SampleRate != 16000 || len(out.Samples) != len(in.Samples) {
		t.Fatalf("format mismatch: sr=%d n=%d", out.SampleRate, len(out.Samples))
	}
	for i := range in.Samples {
		if math.Abs(out.Samples[i]-in.Samples[i]) > 1e-3 {
			t.Fatalf("sample %d mismatch: got=%f want=%f", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestWriteClipsOutOfRangeSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loud.wav")
	if err := WriteMono(path, Clip{Samples: []float64{2, -3, 0.25}, SampleRate: 8000}); err != nil {
		t.Fatalf("WriteMono: %v", err)
	}
	out, err := ReadMono(path)
	if err != nil {
		t.Fatalf("ReadMono: %v", err)
	}
	if out.Samples[0] < 0.99 || out.Samples[1] > -0.99 {
		t.Fatalf("samples not clipped: %v", out.Samples)
	}
}

func TestResamplePreservesDuration(t *testing.T) {
	in := Clip{Samples: sine(44100, 440, 44100), SampleRate: 44100}
	out, err := Resample(in, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out.SampleRate != 16000 || len(out.Samples) != 16000 {
		t.Fatalf("resample length mismatch: sr=%d n=%d", out.SampleRate, len(out.Samples))
	}
	if math.Abs(out.Duration()-in.Duration()) > 1e-9 {
		t.Fatalf("duration mismatch: got=%f want=%f", out.Duration(), in.Duration())
	}
	same, err := Resample(out, 16000)
	if err != nil || len(same.Samples) != len(out.Samples) {
		t.Fatalf("identity resample changed the clip: %v", err)
	}
}

func TestFit(t *testing.T) {
	if got := Fit([]float64{1, 2, 3}, 2); len(got) != 2 || got[1] != 2 {
		t.Fatalf("trim mismatch: %v", got)
	}
	if got := Fit([]float64{1}, 3); len(got) != 3 || got[2] != 0 {
		t.Fatalf("pad mismatch: %v", got)
	}
}

func TestReadMonoRejectsGarbage(t *testing.T) {
	if _, err := ReadMono(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
