// Package remote talks to a model server that hosts pretrained audio
// diffusion networks. Requests and responses are msgpack over HTTP.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cwbudde/algo-audinv/model"
	"github.com/cwbudde/algo-audinv/spectrogram"
	"github.com/cwbudde/algo-audinv/tensor"
)

const contentType = "application/msgpack"

// HTTPDoer describes the HTTP client used by the backbone.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Backbone is a model.Backbone served over HTTP.
type Backbone struct {
	baseURL string
	token   string
	model   string
	client  HTTPDoer
	info    InfoResponse
}

// Dial fetches the server's description of spec and returns a backbone
// bound to it.
func Dial(ctx context.Context, spec model.Spec, endpoint, token string) (model.Backbone, error) {
	return New(ctx, spec.ID, endpoint, token, &http.Client{Timeout: 10 * time.Minute})
}

// New is Dial with an explicit model ID and HTTP client.
func New(ctx context.Context, modelID, endpoint, token string, client HTTPDoer) (*Backbone, error) {
	b := &Backbone{
		baseURL: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:   strings.TrimSpace(token),
		model:   modelID,
		client:  client,
	}
	if b.baseURL == "" {
		return nil, fmt.Errorf("remote backbone: empty endpoint")
	}
	if err := b.call(ctx, http.MethodGet, "/v1/info?model="+url.QueryEscape(modelID), nil, &b.info); err != nil {
		return nil, err
	}
	if len(b.info.AlphasCumprod) == 0 {
		return nil, fmt.Errorf("remote backbone: server sent no noise schedule for %s", modelID)
	}
	if err := b.info.Features.config().Validate(); err != nil {
		return nil, fmt.Errorf("remote backbone: features: %w", err)
	}
	return b, nil
}

// Info returns the description fetched when the client was created.
func (b *Backbone) Info() model.Info { return b.info.info() }

// Features returns the server's feature-extraction settings.
func (b *Backbone) Features() spectrogram.Config { return b.info.Features.config() }

// EncodeText asks the server for a prompt embedding.
func (b *Backbone) EncodeText(ctx context.Context, prompt string) (model.Conditioning, error) {
	var resp Conditioning
	if err := b.call(ctx, http.MethodPost, "/v1/text", TextRequest{Model: b.model, Prompt: prompt}, &resp); err != nil {
		return model.Conditioning{}, err
	}
	return model.Conditioning{Prompt: prompt, Ref: resp.Ref, Embedding: resp.Embedding}, nil
}

// PredictNoise runs one batched noise estimate per conditioning.
func (b *Backbone) PredictNoise(ctx context.Context, x *tensor.Latent, timestep int, conds []model.Conditioning) ([]*tensor.Latent, error) {
	req := NoiseRequest{Model: b.model, Latent: fromLatent(x), Timestep: timestep, Conds: make([]Conditioning, len(conds))}
	for i, c := range conds {
		req.Conds[i] = Conditioning{Ref: c.Ref, Embedding: c.Embedding}
	}
	var resp NoiseResponse
	if err := b.call(ctx, http.MethodPost, "/v1/noise", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Estimates) != len(conds) {
		return nil, fmt.Errorf("remote backbone: got %d noise estimates, want %d", len(resp.Estimates), len(conds))
	}
	out := make([]*tensor.Latent, len(resp.Estimates))
	for i, t := range resp.Estimates {
		l, err := t.latent()
		if err != nil {
			return nil, fmt.Errorf("remote backbone: estimate %d: %w", i, err)
		}
		if l == nil {
			return nil, fmt.Errorf("remote backbone: estimate %d missing", i)
		}
		out[i] = l
	}
	return out, nil
}

// Encode sends the raw waveform to waveform backbones and locally computed
// log-mel features to spectrogram backbones.
func (b *Backbone) Encode(ctx context.Context, waveform []float64) (*tensor.Latent, error) {
	req := EncodeRequest{Model: b.model}
	if b.info.DecodesWaveform {
		req.Waveform = waveform
	} else {
		mel, err := spectrogram.LogMel(waveform, b.Features())
		if err != nil {
			return nil, fmt.Errorf("remote backbone: features: %w", err)
		}
		req.Features = fromLatent(mel)
	}
	var resp LatentMessage
	if err := b.call(ctx, http.MethodPost, "/v1/encode", req, &resp); err != nil {
		return nil, err
	}
	z, err := resp.Latent.latent()
	if err != nil {
		return nil, fmt.Errorf("remote backbone: latent: %w", err)
	}
	if z == nil {
		return nil, fmt.Errorf("remote backbone: encode returned no latent")
	}
	return z, nil
}

// Decode returns the server's waveform or mel spectrogram for z.
func (b *Backbone) Decode(ctx context.Context, z *tensor.Latent) (*model.Decoded, error) {
	var resp DecodeResponse
	if err := b.call(ctx, http.MethodPost, "/v1/decode", LatentMessage{Model: b.model, Latent: fromLatent(z)}, &resp); err != nil {
		return nil, err
	}
	spec, err := resp.Spectrogram.latent()
	if err != nil {
		return nil, fmt.Errorf("remote backbone: spectrogram: %w", err)
	}
	return &model.Decoded{Waveform: resp.Waveform, Spectrogram: spec}, nil
}

// Vocode converts a mel spectrogram to audio on the server.
func (b *Backbone) Vocode(ctx context.Context, mel *tensor.Latent) ([]float64, error) {
	var resp VocodeResponse
	if err := b.call(ctx, http.MethodPost, "/v1/vocode", LatentMessage{Model: b.model, Latent: fromLatent(mel)}, &resp); err != nil {
		return nil, err
	}
	return resp.Waveform, nil
}

func (b *Backbone) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := msgpack.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", contentType)
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var e ErrorResponse
		if msgpack.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("model server %s returned %d: %s", path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("model server %s returned %d", path, resp.StatusCode)
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
