package summary

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/memento/internal/config"
	"github.com/kozaktomas/memento/internal/database"
	"google.golang.org/genai"
)

// Gemini generates summaries with the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	pricing config.ModelPricing
}

// NewGemini creates a Gemini generator. baseURL overrides the API endpoint
// when non-empty.
func NewGemini(ctx context.Context, apiKey, model, baseURL string, pricing config.ModelPricing) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, pricing: pricing}, nil
}

func (g *Gemini) Name() string {
	return ProviderGemini
}

func (g *Gemini) Generate(ctx context.Context, p *database.Profile) (*Result, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: systemPrompt + "\n\n" + profileContext(p)}},
		},
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	var usage Usage
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.Cost = g.pricing.Cost(usage.InputTokens, usage.OutputTokens)
	}

	content := result.Text()
	if content == "" {
		return nil, errors.New("no response from Gemini")
	}
	out, err := parseModelOutput(content)
	if err != nil {
		return nil, err
	}
	return &Result{OneLiner: out.OneLiner, Summary: out.Summary, Provider: ProviderGemini, Usage: usage}, nil
}
