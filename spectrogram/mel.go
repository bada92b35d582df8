package spectrogram

import "math"

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// FilterBank returns triangular mel filters as [Mels][FFTSize/2+1].
func FilterBank(c Config) [][]float64 {
	bins := c.FFTSize/2 + 1
	lo := hzToMel(c.FMin)
	hi := hzToMel(c.FMax)
	step := (hi - lo) / float64(c.Mels+1)

	// Filter edges in fractional FFT bins.
	edges := make([]float64, c.Mels+2)
	for i := range edges {
		hz := melToHz(lo + float64(i)*step)
		edges[i] = hz * float64(c.FFTSize) / float64(c.SampleRate)
	}

	bank := make([][]float64, c.Mels)
	for m := range bank {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		filt := make([]float64, bins)
		for k := range filt {
			fk := float64(k)
			switch {
			case fk > left && fk <= center && center > left:
				filt[k] = (fk - left) / (center - left)
			case fk > center && fk < right && right > center:
				filt[k] = (right - fk) / (right - center)
			}
		}
		// Slaney-style area normalization.
		width := melToHz(lo+float64(m+2)*step) - melToHz(lo+float64(m)*step)
		if width > 0 {
			g := 2.0 / width
			for k := range filt {
				filt[k] *= g
			}
		}
		bank[m] = filt
	}
	return bank
}
