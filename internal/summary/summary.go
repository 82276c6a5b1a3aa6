// Package summary generates the one-line and expanded introductions shown
// on attendee cards.
package summary

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kozaktomas/memento/internal/database"
)

const (
	ProviderAuto     = "auto"
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderTemplate = "template"

	MaxOneLinerRunes = 180
	MaxSummaryRunes  = 1200
)

//go:embed prompts/profile_summary.txt
var systemPrompt string

// ErrEmptyResponse is returned when a model answers without both fields.
var ErrEmptyResponse = errors.New("model returned empty summary fields")

// Usage tracks token usage and cost of a generation.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Cost         float64 // USD
}

// Result holds the generated snippets.
type Result struct {
	OneLiner string
	Summary  string
	Provider string
	Usage    Usage
}

// Generator produces summaries for a profile.
type Generator interface {
	Name() string
	Generate(ctx context.Context, p *database.Profile) (*Result, error)
}

// Service truncates generated text and, in auto mode, falls back to the
// template when the model fails.
type Service struct {
	primary  Generator
	fallback Generator
}

// NewService wraps primary. When fallback is non-nil it is used whenever
// primary fails.
func NewService(primary, fallback Generator) *Service {
	return &Service{primary: primary, fallback: fallback}
}

// Generate returns the summaries of p.
func (s *Service) Generate(ctx context.Context, p *database.Profile) (*Result, error) {
	res, err := s.primary.Generate(ctx, p)
	if err != nil {
		if s.fallback == nil {
			return nil, fmt.Errorf("%s summary: %w", s.primary.Name(), err)
		}
		log.Printf("summary: %s failed, using %s: %v", s.primary.Name(), s.fallback.Name(), err)
		res, err = s.fallback.Generate(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("%s summary: %w", s.fallback.Name(), err)
		}
	}
	res.OneLiner = Truncate(res.OneLiner, MaxOneLinerRunes)
	res.Summary = Truncate(res.Summary, MaxSummaryRunes)
	return res, nil
}

// Truncate trims text to at most maxRunes runes, marking the cut with an
// ellipsis.
func Truncate(text string, maxRunes int) string {
	cleaned := strings.TrimSpace(text)
	if utf8.RuneCountInString(cleaned) <= maxRunes {
		return cleaned
	}
	r := []rune(cleaned)
	return strings.TrimRightFunc(string(r[:maxRunes-1]), isSpace) + "…"
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// modelOutput is the JSON object the prompt asks for.
type modelOutput struct {
	OneLiner string `json:"one_liner"`
	Summary  string `json:"summary"`
}

func parseModelOutput(content string) (modelOutput, error) {
	var out modelOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return out, fmt.Errorf("failed to parse summary JSON: %w", err)
	}
	out.OneLiner = strings.TrimSpace(out.OneLiner)
	out.Summary = strings.TrimSpace(out.Summary)
	if out.OneLiner == "" || out.Summary == "" {
		return out, ErrEmptyResponse
	}
	return out, nil
}

// profileContext serializes the profile for the model.
func profileContext(p *database.Profile) string {
	year := ""
	if p.GraduationYear > 0 {
		year = strconv.Itoa(p.GraduationYear)
	}
	lines := []string{
		"Name: " + p.FullName,
		"Headline: " + p.Headline,
		"Location: " + p.Location,
		"Bio: " + p.Bio,
		"Company: " + p.Company,
		"Major: " + p.Major,
		"Graduation Year: " + year,
	}
	return strings.Join(lines, "\n")
}
