package inversion

import (
	"math/rand"

	"github.com/cwbudde/algo-audinv/tensor"
)

// Rand is the explicit randomness context of one run. Every random draw of
// the forward and reverse processes goes through it, so repeated runs in
// one process stay isolated and a seed reproduces a run exactly.
type Rand struct {
	seed int64
	rng  *rand.Rand
}

// NewRand returns a context seeded with seed.
func NewRand(seed int64) *Rand {
	return &Rand{seed: seed, rng: rand.New(rand.NewSource(seed))}
}

// Seed returns the seed the context was created with.
func (r *Rand) Seed() int64 { return r.seed }

// Normal draws a standard normal latent of the given shape.
func (r *Rand) Normal(shape ...int) *tensor.Latent {
	return tensor.Randn(r.rng, shape...)
}
