package schedule

import "math"

// LinearBetas returns n betas evenly spaced in [start, end].
func LinearBetas(n int, start, end float64) []float64 {
	betas := make([]float64, n)
	for i := range betas {
		betas[i] = start + lerpFrac(i, n)*(end-start)
	}
	return betas
}

// ScaledLinearBetas spaces sqrt(beta) linearly, the schedule latent diffusion
// models are trained with (beta_start=0.00085, beta_end=0.012).
func ScaledLinearBetas(n int, start, end float64) []float64 {
	betas := make([]float64, n)
	s0 := math.Sqrt(start)
	s1 := math.Sqrt(end)
	for i := range betas {
		b := s0 + lerpFrac(i, n)*(s1-s0)
		betas[i] = b * b
	}
	return betas
}

// CosineBetas returns the squaredcos_cap_v2 schedule with betas capped at 0.999.
func CosineBetas(n int) []float64 {
	f := func(t float64) float64 {
		c := math.Cos((t + 0.008) / 1.008 * math.Pi / 2)
		return c * c
	}
	betas := make([]float64, n)
	for i := range betas {
		t1 := float64(i) / float64(n)
		t2 := float64(i+1) / float64(n)
		betas[i] = math.Min(1-f(t2)/f(t1), 0.999)
	}
	return betas
}

// AlphasCumprod returns prod_{k<=i}(1 - beta_k).
func AlphasCumprod(betas []float64) []float64 {
	out := make([]float64, len(betas))
	prod := 1.0
	for i, b := range betas {
		prod *= 1 - b
		out[i] = prod
	}
	return out
}

func lerpFrac(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}
