package summary

import (
	"context"
	"errors"

	"github.com/kozaktomas/memento/internal/config"
)

// FromConfig builds the service for the configured provider. In auto mode
// the first configured model is used with the template as fallback, and the
// template alone when no model credentials are set.
func FromConfig(ctx context.Context, cfg *config.Config) (*Service, error) {
	sc := cfg.Summary
	switch sc.Provider {
	case ProviderTemplate:
		return NewService(Template{}, nil), nil
	case ProviderOpenAI:
		if sc.OpenAIToken == "" {
			return nil, errors.New("OPENAI_TOKEN is required for the openai summary provider")
		}
		return NewService(NewOpenAI(sc.OpenAIToken, sc.OpenAIModel, cfg.GetModelPricing(sc.OpenAIModel)), nil), nil
	case ProviderGemini:
		if sc.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required for the gemini summary provider")
		}
		g, err := NewGemini(ctx, sc.GeminiAPIKey, sc.GeminiModel, "", cfg.GetModelPricing(sc.GeminiModel))
		if err != nil {
			return nil, err
		}
		return NewService(g, nil), nil
	}

	switch {
	case sc.OpenAIToken != "":
		return NewService(NewOpenAI(sc.OpenAIToken, sc.OpenAIModel, cfg.GetModelPricing(sc.OpenAIModel)), Template{}), nil
	case sc.GeminiAPIKey != "":
		g, err := NewGemini(ctx, sc.GeminiAPIKey, sc.GeminiModel, "", cfg.GetModelPricing(sc.GeminiModel))
		if err != nil {
			return nil, err
		}
		return NewService(g, Template{}), nil
	}
	return NewService(Template{}, nil), nil
}
