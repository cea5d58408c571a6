package service

import (
	"reflect"
	"strings"
	"testing"

	"github.com/rin/mnemo/internal/domain"
)

func matchWith(id, prompt string, score float32, tags ...string) domain.MemoryMatch {
	return domain.MemoryMatch{
		Creation: domain.Creation{
			ID:     id,
			Prompt: prompt,
			Tags:   domain.StringArray(tags),
		},
		Score: score,
	}
}

func TestContextComposer_NoReferenceOrNoMatches(t *testing.T) {
	composer := NewContextComposer(0)

	tests := []struct {
		name      string
		detection domain.DetectionResult
		matches   []domain.MemoryMatch
	}{
		{
			name:      "no reference",
			detection: domain.DetectionResult{HasReference: false, Category: domain.ReferenceNone},
			matches: []domain.MemoryMatch{
				matchWith("r1", "a steampunk robot playing violin", 0.9, "robot", "steampunk"),
			},
		},
		{
			name:      "reference but no matches",
			detection: domain.DetectionResult{HasReference: true, Category: domain.ReferenceTemporal},
			matches:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := "a crystal castle at sunset"
			enriched, usedIDs := composer.Compose(prompt, tt.detection, tt.matches)

			if enriched != prompt {
				t.Errorf("expected unchanged prompt, got %q", enriched)
			}
			if len(usedIDs) != 0 {
				t.Errorf("expected no used IDs, got %v", usedIDs)
			}
		})
	}
}

func TestContextComposer_InheritsAttributes(t *testing.T) {
	composer := NewContextComposer(3)

	prompt := "a robot like the one I made before, but with wings"
	detection := domain.DetectionResult{
		HasReference: true,
		Category:     domain.ReferenceVariation,
		Confidence:   domain.ConfidenceHigh,
	}
	matches := []domain.MemoryMatch{
		matchWith("r1", "a steampunk robot playing violin", 0.78, "robot", "steampunk", "sci-fi"),
	}

	enriched, usedIDs := composer.Compose(prompt, detection, matches)

	if !strings.HasPrefix(enriched, prompt) {
		t.Errorf("expected original prompt to survive as prefix, got %q", enriched)
	}
	if !strings.Contains(enriched, "wings") {
		t.Errorf("expected the variation delta to survive, got %q", enriched)
	}
	if !strings.Contains(enriched, "steampunk") || !strings.Contains(enriched, "sci-fi") {
		t.Errorf("expected inherited attributes, got %q", enriched)
	}
	// "robot" is already in the prompt and must not be inherited again.
	if strings.Contains(strings.TrimPrefix(enriched, prompt), "robot") {
		t.Errorf("expected prompt terms to be excluded from attributes, got %q", enriched)
	}
	if len(usedIDs) != 1 || usedIDs[0] != "r1" {
		t.Errorf("expected usedIDs [r1], got %v", usedIDs)
	}
}

func TestContextComposer_ContributorsOnly(t *testing.T) {
	composer := NewContextComposer(3)

	prompt := "a steampunk robot, but this time underwater"
	detection := domain.DetectionResult{
		HasReference: true,
		Category:     domain.ReferenceVariation,
	}
	matches := []domain.MemoryMatch{
		matchWith("r1", "a steampunk robot playing violin", 0.9, "robot", "steampunk", "dramatic"),
		// Every tag is either in the prompt or already inherited from r1.
		matchWith("r2", "another steampunk robot", 0.8, "robot", "steampunk", "dramatic"),
		matchWith("r3", "a glowing gem", 0.7, "gem", "glowing"),
	}

	enriched, usedIDs := composer.Compose(prompt, detection, matches)

	want := []string{"r1", "r3"}
	if !reflect.DeepEqual(usedIDs, want) {
		t.Errorf("expected usedIDs %v, got %v", want, usedIDs)
	}
	for _, attr := range []string{"dramatic", "gem", "glowing"} {
		if !strings.Contains(enriched, attr) {
			t.Errorf("expected attribute %q in %q", attr, enriched)
		}
	}
}

func TestContextComposer_ContextLimit(t *testing.T) {
	composer := NewContextComposer(3)

	prompt := "a new scene like my last one"
	detection := domain.DetectionResult{
		HasReference: true,
		Category:     domain.ReferenceComparative,
	}
	matches := []domain.MemoryMatch{
		matchWith("r1", "", 0.9, "castle"),
		matchWith("r2", "", 0.8, "dragon"),
		matchWith("r3", "", 0.7, "forest"),
		matchWith("r4", "", 0.6, "ocean"),
	}

	enriched, usedIDs := composer.Compose(prompt, detection, matches)

	if strings.Contains(enriched, "ocean") {
		t.Errorf("expected fourth match to be ignored, got %q", enriched)
	}
	want := []string{"r1", "r2", "r3"}
	if !reflect.DeepEqual(usedIDs, want) {
		t.Errorf("expected usedIDs %v, got %v", want, usedIDs)
	}
}

func TestContextComposer_DerivesTagsWhenMissing(t *testing.T) {
	composer := NewContextComposer(3)

	prompt := "something like my last piece"
	detection := domain.DetectionResult{
		HasReference: true,
		Category:     domain.ReferenceComparative,
	}
	matches := []domain.MemoryMatch{
		matchWith("r1", "a steampunk robot playing violin", 0.8),
	}

	enriched, usedIDs := composer.Compose(prompt, detection, matches)

	if !strings.Contains(enriched, "steampunk") || !strings.Contains(enriched, "robot") {
		t.Errorf("expected attributes derived from the record prompt, got %q", enriched)
	}
	if len(usedIDs) != 1 || usedIDs[0] != "r1" {
		t.Errorf("expected usedIDs [r1], got %v", usedIDs)
	}
}

func TestContextComposer_AllAttributesRedundant(t *testing.T) {
	composer := NewContextComposer(3)

	prompt := "a steampunk robot in a dramatic storm"
	detection := domain.DetectionResult{
		HasReference: true,
		Category:     domain.ReferenceTemporal,
	}
	matches := []domain.MemoryMatch{
		matchWith("r1", "", 0.9, "robot", "steampunk", "dramatic", "storm"),
	}

	enriched, usedIDs := composer.Compose(prompt, detection, matches)

	if enriched != prompt {
		t.Errorf("expected unchanged prompt, got %q", enriched)
	}
	if len(usedIDs) != 0 {
		t.Errorf("expected no used IDs, got %v", usedIDs)
	}
}

func TestContextComposer_Deterministic(t *testing.T) {
	composer := NewContextComposer(3)

	prompt := "a robot like the one I made before, but with wings"
	detection := domain.DetectionResult{
		HasReference: true,
		Category:     domain.ReferenceVariation,
	}
	matches := []domain.MemoryMatch{
		matchWith("r1", "a steampunk robot playing violin", 0.78, "robot", "steampunk", "sci-fi"),
		matchWith("r2", "a crystal castle at night", 0.61, "castle", "crystal", "night"),
	}

	firstEnriched, firstIDs := composer.Compose(prompt, detection, matches)
	secondEnriched, secondIDs := composer.Compose(prompt, detection, matches)

	if firstEnriched != secondEnriched {
		t.Errorf("expected identical enriched prompts, got %q and %q", firstEnriched, secondEnriched)
	}
	if !reflect.DeepEqual(firstIDs, secondIDs) {
		t.Errorf("expected identical used IDs, got %v and %v", firstIDs, secondIDs)
	}
}

func TestHumanJoin(t *testing.T) {
	tests := []struct {
		items []string
		want  string
	}{
		{nil, ""},
		{[]string{"steampunk"}, "steampunk"},
		{[]string{"steampunk", "sci-fi"}, "steampunk and sci-fi"},
		{[]string{"castle", "crystal", "night"}, "castle, crystal and night"},
	}

	for _, tt := range tests {
		if got := humanJoin(tt.items); got != tt.want {
			t.Errorf("humanJoin(%v) = %q, want %q", tt.items, got, tt.want)
		}
	}
}
