package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Latent is a dense row-major tensor holding a diffusion model's internal
// representation of audio at some noise level.
type Latent struct {
	Shape []int
	Data  []float64
}

// New allocates a zero latent with the given shape.
func New(shape ...int) *Latent {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension %d", d))
		}
		n *= d
	}
	return &Latent{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, n),
	}
}

// FromData wraps data with shape. The data slice is not copied.
func FromData(shape []int, data []float64) (*Latent, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d in shape %v", d, shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Latent{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Len returns the number of elements.
func (l *Latent) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Data)
}

// Clone returns a deep copy.
func (l *Latent) Clone() *Latent {
	if l == nil {
		return nil
	}
	return &Latent{
		Shape: append([]int(nil), l.Shape...),
		Data:  append([]float64(nil), l.Data...),
	}
}

// ZerosLike allocates a zero latent with the same shape as l.
func ZerosLike(l *Latent) *Latent {
	return New(l.Shape...)
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Latent) bool {
	if a == nil || b == nil || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// CheckShape returns an error when b does not match a's shape.
func CheckShape(a, b *Latent) error {
	if !SameShape(a, b) {
		return fmt.Errorf("shape mismatch: %v vs %v", shapeOf(a), shapeOf(b))
	}
	return nil
}

func shapeOf(l *Latent) []int {
	if l == nil {
		return nil
	}
	return l.Shape
}

// Randn returns a latent of the given shape filled with standard normal samples.
func Randn(rng *rand.Rand, shape ...int) *Latent {
	out := New(shape...)
	for i := range out.Data {
		out.Data[i] = rng.NormFloat64()
	}
	return out
}

// Combine returns a*x + b*y.
func Combine(a float64, x *Latent, b float64, y *Latent) *Latent {
	out := ZerosLike(x)
	for i := range out.Data {
		out.Data[i] = a*x.Data[i] + b*y.Data[i]
	}
	return out
}

// AddScaled adds s*y to l in place.
func (l *Latent) AddScaled(s float64, y *Latent) {
	for i := range l.Data {
		l.Data[i] += s * y.Data[i]
	}
}

// Scale multiplies l by s in place.
func (l *Latent) Scale(s float64) {
	for i := range l.Data {
		l.Data[i] *= s
	}
}

// MaxAbsDiff returns max |a-b| over all elements.
func MaxAbsDiff(a, b *Latent) float64 {
	var m float64
	for i := range a.Data {
		if d := math.Abs(a.Data[i] - b.Data[i]); d > m {
			m = d
		}
	}
	return m
}

// RMS returns the root-mean-square of the elements.
func (l *Latent) RMS() float64 {
	if l.Len() == 0 {
		return 0
	}
	var sum float64
	for _, v := range l.Data {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(l.Data)))
}

// IsFinite reports whether every element is finite.
func (l *Latent) IsFinite() bool {
	for _, v := range l.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
