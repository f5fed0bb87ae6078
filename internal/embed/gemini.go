package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
)

// Request asks for the embedding of one text.
type Request struct {
	Text string
}

func (r Request) CacheKey() string {
	return strings.ToLower(strings.Join(strings.Fields(r.Text), " "))
}

// EmbedFunc returns the raw vector for text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Gemini is a provider transport over the Gemini embedding API. Vectors
// travel as JSON so they can be cached like any other payload.
type Gemini struct {
	embed EmbedFunc
	dims  int
}

// NewGemini creates an embedding transport for model with dims outputs.
func NewGemini(ctx context.Context, apiKey, model string, dims int) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize genai client: %w", err)
	}

	outputDim := int32(dims)
	config := &genai.EmbedContentConfig{
		TaskType:             "CLUSTERING",
		OutputDimensionality: &outputDim,
	}
	return NewGeminiWith(func(ctx context.Context, text string) ([]float32, error) {
		result, err := client.Models.EmbedContent(ctx, model, genai.Text(text), config)
		if err != nil {
			var ae genai.APIError
			if errors.As(err, &ae) && ae.Code > 0 {
				return nil, &httpclient.StatusError{Code: ae.Code, Status: ae.Status, Body: []byte(ae.Message)}
			}
			return nil, err
		}
		if result == nil || len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
			return nil, errors.New("no embedding returned")
		}
		return result.Embeddings[0].Values, nil
	}, dims), nil
}

// NewGeminiWith creates a transport over an arbitrary embedding function.
func NewGeminiWith(fn EmbedFunc, dims int) *Gemini {
	return &Gemini{embed: fn, dims: dims}
}

func (g *Gemini) Name() string { return "gemini-embed" }

func (g *Gemini) RawCall(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &provider.Error{Kind: provider.KindInvalidRequest, Provider: g.Name(), Err: errors.New("empty text")}
	}
	v, err := g.embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (g *Gemini) Parse(payload []byte) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if g.dims > 0 && len(v) != g.dims {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", g.dims, len(v))
	}
	unitNormalize(v)
	return v, nil
}

// Governed adapts a governed embedding provider to the Embedder interface.
type Governed struct {
	Access *provider.Access[Request, []float32]
}

// ensure Governed implements Embedder
var _ Embedder = Governed{}

func (g Governed) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.Access.Fetch(ctx, Request{Text: text})
}
