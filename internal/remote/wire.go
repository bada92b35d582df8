package remote

import (
	"github.com/cwbudde/algo-audinv/model"
	"github.com/cwbudde/algo-audinv/spectrogram"
	"github.com/cwbudde/algo-audinv/tensor"
)

// Tensor is a latent on the wire.
type Tensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float64 `msgpack:"data"`
}

func fromLatent(l *tensor.Latent) *Tensor {
	if l == nil {
		return nil
	}
	return &Tensor{Shape: l.Shape, Data: l.Data}
}

func (t *Tensor) latent() (*tensor.Latent, error) {
	if t == nil {
		return nil, nil
	}
	return tensor.FromData(t.Shape, t.Data)
}

// Features mirrors spectrogram.Config.
type Features struct {
	SampleRate int     `msgpack:"sample_rate"`
	FFTSize    int     `msgpack:"fft_size"`
	Hop        int     `msgpack:"hop"`
	Mels       int     `msgpack:"mels"`
	FMin       float64 `msgpack:"fmin"`
	FMax       float64 `msgpack:"fmax"`
}

func (f Features) config() spectrogram.Config {
	return spectrogram.Config{
		SampleRate: f.SampleRate,
		FFTSize:    f.FFTSize,
		Hop:        f.Hop,
		Mels:       f.Mels,
		FMin:       f.FMin,
		FMax:       f.FMax,
	}
}

// InfoResponse is returned by GET /v1/info.
type InfoResponse struct {
	Name            string    `msgpack:"name"`
	SampleRate      int       `msgpack:"sample_rate"`
	AlphasCumprod   []float64 `msgpack:"alphas_cumprod"`
	FinalAlphaBar   float64   `msgpack:"final_alpha_bar"`
	StepsOffset     int       `msgpack:"steps_offset"`
	DecodesWaveform bool      `msgpack:"decodes_waveform"`
	Features        Features  `msgpack:"features"`
}

func (r InfoResponse) info() model.Info {
	return model.Info{
		Name:            r.Name,
		SampleRate:      r.SampleRate,
		AlphasCumprod:   r.AlphasCumprod,
		FinalAlphaBar:   r.FinalAlphaBar,
		StepsOffset:     r.StepsOffset,
		DecodesWaveform: r.DecodesWaveform,
	}
}

// TextRequest asks the server to encode a prompt.
type TextRequest struct {
	Model  string `msgpack:"model"`
	Prompt string `msgpack:"prompt"`
}

// Conditioning is an encoded prompt: a server-side handle, an embedding, or
// both.
type Conditioning struct {
	Ref       string    `msgpack:"ref,omitempty"`
	Embedding []float64 `msgpack:"embedding,omitempty"`
}

// NoiseRequest batches one latent against several conditionings.
type NoiseRequest struct {
	Model    string         `msgpack:"model"`
	Latent   *Tensor        `msgpack:"latent"`
	Timestep int            `msgpack:"timestep"`
	Conds    []Conditioning `msgpack:"conds"`
}

// NoiseResponse holds one estimate per conditioning.
type NoiseResponse struct {
	Estimates []*Tensor `msgpack:"estimates"`
}

// EncodeRequest carries either the waveform or locally extracted log-mel
// features, depending on the backbone.
type EncodeRequest struct {
	Model    string    `msgpack:"model"`
	Waveform []float64 `msgpack:"waveform,omitempty"`
	Features *Tensor   `msgpack:"features,omitempty"`
}

// LatentMessage wraps a single latent.
type LatentMessage struct {
	Model  string  `msgpack:"model,omitempty"`
	Latent *Tensor `msgpack:"latent"`
}

// DecodeResponse is returned by /v1/decode.
type DecodeResponse struct {
	Waveform    []float64 `msgpack:"waveform,omitempty"`
	Spectrogram *Tensor   `msgpack:"spectrogram,omitempty"`
}

// VocodeResponse is returned by /v1/vocode.
type VocodeResponse struct {
	Waveform []float64 `msgpack:"waveform"`
}

// ErrorResponse is the body of a non-2xx reply.
type ErrorResponse struct {
	Error string `msgpack:"error"`
}
