package config

import (
	"math"
	"os"
	"testing"
	"time"
)

func TestGetModelPricing_KnownModel(t *testing.T) {
	cfg := Load()

	pricing := cfg.GetModelPricing("gpt-4o-mini")
	if pricing.Input != 0.15 {
		t.Errorf("expected input price 0.15, got %f", pricing.Input)
	}
	if pricing.Output != 0.60 {
		t.Errorf("expected output price 0.60, got %f", pricing.Output)
	}
}

func TestGetModelPricing_UnknownModel(t *testing.T) {
	cfg := Load()

	pricing := cfg.GetModelPricing("unknown-model")
	if pricing.Input != 0 || pricing.Output != 0 {
		t.Errorf("expected zero pricing for unknown model, got %+v", pricing)
	}
}

func TestModelPricing_Cost(t *testing.T) {
	p := ModelPricing{Input: 2.0, Output: 8.0}
	got := p.Cost(500_000, 250_000)
	if math.Abs(got-3.0) > 1e-9 {
		t.Errorf("expected cost 3.0, got %f", got)
	}
}

func TestLoad_PricesLoaded(t *testing.T) {
	cfg := Load()

	if len(cfg.Prices.Models) == 0 {
		t.Error("expected prices to be loaded from embedded file")
	}
	if _, ok := cfg.Prices.Models["gemini-2.5-flash"]; !ok {
		t.Error("expected gemini-2.5-flash pricing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"MATCHER_PROVIDER", "MATCHER_THRESHOLD", "MATCHER_TIMEOUT", "MATCHER_MAX_RETRIES",
		"SWEEP_LOOKAHEAD", "RECOGNITION_TOP_N", "JWT_AUDIENCE", "AWS_REGION", "EMBEDDING_DIM",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.Matcher.Provider != MatcherRekognition {
		t.Errorf("expected provider %q, got %q", MatcherRekognition, cfg.Matcher.Provider)
	}
	if cfg.Matcher.Threshold != 0.80 {
		t.Errorf("expected threshold 0.80, got %f", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %s", cfg.Matcher.Timeout)
	}
	if cfg.Matcher.MaxRetries != 1 {
		t.Errorf("expected 1 retry, got %d", cfg.Matcher.MaxRetries)
	}
	if cfg.Lifecycle.Lookahead != 20*time.Minute {
		t.Errorf("expected lookahead 20m, got %s", cfg.Lifecycle.Lookahead)
	}
	if cfg.Recognition.TopN != 5 {
		t.Errorf("expected top-N 5, got %d", cfg.Recognition.TopN)
	}
	if cfg.Auth.Audience != "authenticated" {
		t.Errorf("expected audience 'authenticated', got %q", cfg.Auth.Audience)
	}
	if cfg.AWS.Region != "us-east-2" {
		t.Errorf("expected region us-east-2, got %q", cfg.AWS.Region)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected dim 512, got %d", cfg.Embedding.Dim)
	}
}

func TestLoad_ThresholdAcceptsPercent(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"0.9", 0.9},
		{"90", 0.9},
		{"1", 1},
		{"0", 0.80},
		{"-5", 0.80},
		{"150", 0.80},
		{"abc", 0.80},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("MATCHER_THRESHOLD", tc.value)
			cfg := Load()
			if math.Abs(cfg.Matcher.Threshold-tc.want) > 1e-9 {
				t.Errorf("MATCHER_THRESHOLD=%s: expected %f, got %f", tc.value, tc.want, cfg.Matcher.Threshold)
			}
		})
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "soon")
	t.Setenv("SWEEP_LOOKAHEAD", "-5m")

	cfg := Load()

	if cfg.Lifecycle.Interval != time.Minute {
		t.Errorf("expected default interval, got %s", cfg.Lifecycle.Interval)
	}
	if cfg.Lifecycle.Lookahead != 20*time.Minute {
		t.Errorf("expected default lookahead, got %s", cfg.Lifecycle.Lookahead)
	}
}

func TestLoad_MaxRetriesBounded(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"0", 0},
		{"1", 1},
		{"5", 1},
		{"-1", 1},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("MATCHER_MAX_RETRIES", tc.value)
			if got := Load().Matcher.MaxRetries; got != tc.want {
				t.Errorf("MATCHER_MAX_RETRIES=%s: expected %d, got %d", tc.value, tc.want, got)
			}
		})
	}
}

func TestLoad_InvalidEmbeddingDim(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "not-a-number")

	cfg := Load()
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default dim 512 for invalid input, got %d", cfg.Embedding.Dim)
	}
}

func TestLoad_ProviderLowercased(t *testing.T) {
	t.Setenv("MATCHER_PROVIDER", "Vector")
	t.Setenv("SUMMARY_PROVIDER", " OpenAI ")

	cfg := Load()
	if cfg.Matcher.Provider != MatcherVector {
		t.Errorf("expected %q, got %q", MatcherVector, cfg.Matcher.Provider)
	}
	if cfg.Summary.Provider != "openai" {
		t.Errorf("expected openai, got %q", cfg.Summary.Provider)
	}
}
