package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/kozaktomas/memento/internal/database"
)

// Template builds deterministic summaries from the profile fields alone.
type Template struct{}

func (Template) Name() string {
	return ProviderTemplate
}

func (Template) Generate(ctx context.Context, p *database.Profile) (*Result, error) {
	headline := strings.TrimSpace(p.Headline)
	company := strings.TrimSpace(p.Company)
	major := strings.TrimSpace(p.Major)
	location := strings.TrimSpace(p.Location)
	bio := strings.TrimSpace(p.Bio)

	role := "professional"
	switch {
	case headline != "":
		role = headline
	case company != "":
		role = "professional at " + company
	}
	if major != "" && headline == "" {
		role = major + " student and " + role
	}

	oneLiner := fmt.Sprintf("%s is a %s", p.DisplayName(), role)
	if location != "" {
		oneLiner += " based in " + location
	}
	oneLiner += "."

	parts := []string{oneLiner}
	if bio != "" {
		parts[0] = bio
	}
	if company != "" && headline != "" {
		parts = append(parts, fmt.Sprintf("Currently at %s.", company))
	}
	if major != "" {
		if p.GraduationYear > 0 {
			parts = append(parts, fmt.Sprintf("Studied %s, class of %d.", major, p.GraduationYear))
		} else {
			parts = append(parts, fmt.Sprintf("Studied %s.", major))
		}
	}

	return &Result{
		OneLiner: oneLiner,
		Summary:  strings.Join(parts, " "),
		Provider: ProviderTemplate,
	}, nil
}
