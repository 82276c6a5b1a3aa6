package summary

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/memento/internal/config"
	"github.com/kozaktomas/memento/internal/database"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAI generates summaries with the chat completions API.
type OpenAI struct {
	client  openai.Client
	model   string
	pricing config.ModelPricing
}

// NewOpenAI creates an OpenAI generator. Extra options are passed to the client.
func NewOpenAI(apiKey, model string, pricing config.ModelPricing, opts ...option.RequestOption) *OpenAI {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   model,
		pricing: pricing,
	}
}

func (g *OpenAI) Name() string {
	return ProviderOpenAI
}

func (g *OpenAI) Generate(ctx context.Context, p *database.Profile) (*Result, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(profileContext(p)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(400),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	usage.Cost = g.pricing.Cost(usage.InputTokens, usage.OutputTokens)

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}
	out, err := parseModelOutput(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return &Result{OneLiner: out.OneLiner, Summary: out.Summary, Provider: ProviderOpenAI, Usage: usage}, nil
}
