package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/pkg/httpclient"
)

// Request asks the model for the entities in one keyword.
type Request struct {
	Text string
}

func (r Request) CacheKey() string {
	return strings.ToLower(strings.Join(strings.Fields(r.Text), " "))
}

// Generator produces a text completion for a prompt.
type Generator func(ctx context.Context, prompt string) (string, error)

// Gemini is a provider transport that asks a Gemini model for entities.
// Wrap it in provider.New to get caching, rate limiting and auditing.
type Gemini struct {
	generate Generator
}

// NewGemini creates a transport backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize genai client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0)),
		ResponseMIMEType: "application/json",
	}
	return &Gemini{generate: func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
		if err != nil {
			return "", apiError(err)
		}
		return resp.Text(), nil
	}}, nil
}

// NewGeminiWith creates a transport over an arbitrary generator.
func NewGeminiWith(g Generator) *Gemini {
	return &Gemini{generate: g}
}

func (g *Gemini) Name() string { return "gemini-entities" }

const promptTemplate = `Extract the named entities from this search keyword.
Allowed types: product, brand, location, audience, price, year, problem, topic.
Respond with a JSON array only, for example [{"text":"nike","type":"brand"}].
Respond with [] when there are none.

Keyword: %s`

func (g *Gemini) RawCall(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &provider.Error{Kind: provider.KindInvalidRequest, Provider: g.Name(), Err: errors.New("empty text")}
	}
	out, err := g.generate(ctx, fmt.Sprintf(promptTemplate, req.Text))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

func (g *Gemini) Parse(payload []byte) ([]keyword.Entity, error) {
	s := strings.TrimSpace(string(payload))
	if m := fencePattern.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}

	var found []keyword.Entity
	if err := json.Unmarshal([]byte(s), &found); err != nil {
		return nil, fmt.Errorf("decode entity response: %w", err)
	}
	return Merge(nil, found), nil
}

// apiError maps a Gemini API error onto an HTTP status so the provider
// layer classifies it like any other transport failure.
func apiError(err error) error {
	var ae genai.APIError
	if errors.As(err, &ae) && ae.Code > 0 {
		return &httpclient.StatusError{Code: ae.Code, Status: ae.Status, Body: []byte(ae.Message)}
	}
	return err
}

// Governed adapts a governed Gemini provider to the Extractor interface.
type Governed struct {
	Access *provider.Access[Request, []keyword.Entity]
}

func (g Governed) Extract(ctx context.Context, text string) ([]keyword.Entity, error) {
	return g.Access.Fetch(ctx, Request{Text: text})
}
