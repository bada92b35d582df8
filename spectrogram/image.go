package spectrogram

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/cwbudde/algo-audinv/tensor"
)

// viridis anchors, evenly spaced over [0,1].
var viridis = [9][3]float64{
	{68, 1, 84},
	{71, 44, 122},
	{59, 81, 139},
	{44, 113, 142},
	{33, 144, 141},
	{39, 173, 129},
	{92, 200, 99},
	{170, 220, 50},
	{253, 231, 37},
}

func colormap(v float64) color.RGBA {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	pos := v * float64(len(viridis)-1)
	i := int(pos)
	if i >= len(viridis)-1 {
		i = len(viridis) - 2
	}
	f := pos - float64(i)
	a, b := viridis[i], viridis[i+1]
	return color.RGBA{
		R: uint8(a[0] + f*(b[0]-a[0])),
		G: uint8(a[1] + f*(b[1]-a[1])),
		B: uint8(a[2] + f*(b[2]-a[2])),
		A: 255,
	}
}

// Render maps a [..., frames, bins] feature tensor to an image with time on
// the x axis and low bins at the bottom, scaled between its min and max.
func Render(feat *tensor.Latent) (image.Image, error) {
	if feat == nil || len(feat.Shape) < 2 {
		return nil, fmt.Errorf("render needs at least a 2-D tensor")
	}
	frames := feat.Shape[len(feat.Shape)-2]
	bins := feat.Shape[len(feat.Shape)-1]
	if frames == 0 || bins == 0 {
		return nil, fmt.Errorf("render: empty tensor %v", feat.Shape)
	}
	plane := feat.Data[:frames*bins]

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range plane {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if !(span > 0) {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, frames, bins))
	for f := 0; f < frames; f++ {
		for b := 0; b < bins; b++ {
			v := (plane[f*bins+b] - lo) / span
			img.SetRGBA(f, bins-1-b, colormap(v))
		}
	}
	return img, nil
}

// EncodePNG renders feat and writes it as PNG.
func EncodePNG(w io.Writer, feat *tensor.Latent) error {
	img, err := Render(feat)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
