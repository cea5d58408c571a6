package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rin/mnemo/internal/domain"
)

// referenceRule binds one trigger to its category and base confidence.
// A rule matches either a literal phrase (whole words for single-word
// triggers, substring for multi-word ones) or a regular expression.
type referenceRule struct {
	category   domain.ReferenceCategory
	confidence domain.DetectionConfidence
	phrase     string
	pattern    *regexp.Regexp
}

// Patterns run against lowercased, whitespace-collapsed text, so a single
// space is enough between words.
var (
	madeNounPattern  = regexp.MustCompile(`\bthe ([a-z][a-z'-]*) i (?:made|created)\b`)
	basedOnPattern   = regexp.MustCompile(`\bbased on my ([a-z][a-z'-]*)`)
	similarToPattern = regexp.MustCompile(`\bsimilar to my ([a-z][a-z'-]*)`)
	weekdayPattern   = regexp.MustCompile(`\b(?:from|on) (?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// referenceRules is evaluated in order; order also fixes the order of the
// reported evidence phrases.
var referenceRules = []referenceRule{
	// Explicit references to a prior creation. A captured subject noun
	// ("the castle i made", "based on my robot", "similar to my dragon")
	// scores high, bare phrasings medium.
	{category: domain.ReferenceExplicit, confidence: domain.ConfidenceHigh, pattern: madeNounPattern},
	{category: domain.ReferenceExplicit, confidence: domain.ConfidenceHigh, pattern: basedOnPattern},
	{category: domain.ReferenceExplicit, confidence: domain.ConfidenceHigh, pattern: similarToPattern},
	{category: domain.ReferenceExplicit, confidence: domain.ConfidenceMedium, phrase: "like i made"},
	{category: domain.ReferenceExplicit, confidence: domain.ConfidenceMedium, phrase: "i made earlier"},
	{category: domain.ReferenceExplicit, confidence: domain.ConfidenceMedium, phrase: "like that one"},
	{category: domain.ReferenceExplicit, confidence: domain.ConfidenceMedium, phrase: "based on my"},

	// Temporal references. Bare "before"/"earlier" are weak cues.
	{category: domain.ReferenceTemporal, confidence: domain.ConfidenceMedium, phrase: "last time"},
	{category: domain.ReferenceTemporal, confidence: domain.ConfidenceMedium, phrase: "like before"},
	{category: domain.ReferenceTemporal, confidence: domain.ConfidenceMedium, phrase: "yesterday"},
	{category: domain.ReferenceTemporal, confidence: domain.ConfidenceMedium, phrase: "previously"},
	{category: domain.ReferenceTemporal, confidence: domain.ConfidenceMedium, pattern: weekdayPattern},
	{category: domain.ReferenceTemporal, confidence: domain.ConfidenceLow, phrase: "earlier"},
	{category: domain.ReferenceTemporal, confidence: domain.ConfidenceLow, phrase: "before"},

	// Variation requests: the user wants a delta on something prior.
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceMedium, phrase: "but this time"},
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceMedium, phrase: "this time with"},
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceMedium, phrase: "but with"},
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceMedium, phrase: "but make it"},
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceMedium, phrase: "new version"},
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceMedium, phrase: "variation of"},
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceMedium, phrase: "remake"},
	{category: domain.ReferenceVariation, confidence: domain.ConfidenceLow, phrase: "except"},

	// Comparative cues. Bare "similar to" stays comparative; with "my" and
	// a subject it qualifies as explicit above and wins by priority.
	{category: domain.ReferenceComparative, confidence: domain.ConfidenceMedium, phrase: "similar to"},
	{category: domain.ReferenceComparative, confidence: domain.ConfidenceMedium, phrase: "like my"},
	{category: domain.ReferenceComparative, confidence: domain.ConfidenceMedium, phrase: "my previous"},
	{category: domain.ReferenceComparative, confidence: domain.ConfidenceMedium, phrase: "in the style of my"},
}

// categoryPriority orders categories for reporting when several match.
var categoryPriority = []domain.ReferenceCategory{
	domain.ReferenceExplicit,
	domain.ReferenceTemporal,
	domain.ReferenceVariation,
	domain.ReferenceComparative,
}

// confidenceLevels orders confidences from weakest to strongest.
var confidenceLevels = []domain.DetectionConfidence{
	domain.ConfidenceLow,
	domain.ConfidenceMedium,
	domain.ConfidenceHigh,
}

func confidenceRank(c domain.DetectionConfidence) int {
	for i, level := range confidenceLevels {
		if level == c {
			return i
		}
	}
	return 0
}

// DetectReferences scans a prompt for references to past creations.
// It is a pure function of the prompt text: no I/O, no clock, no randomness,
// so identical prompts always produce identical results.
//
// The reported category is the highest-priority matched category, except
// that a matched variation cue wins whenever it co-occurs with another
// category, since composition must then apply the requested delta.
// Confidence is the strongest individual rule hit, raised one level (capped
// at high) when two or more distinct categories match.
//
// Parameters:
//   - prompt: the raw user prompt
//
// Returns:
//   - domain.DetectionResult: category, confidence and evidence phrases
//   - error: wraps domain.ErrDetection for empty, blank or invalid UTF-8 input
func DetectReferences(prompt string) (domain.DetectionResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.DetectionResult{}, fmt.Errorf("prompt is empty: %w", domain.ErrDetection)
	}
	if !utf8.ValidString(prompt) {
		return domain.DetectionResult{}, fmt.Errorf("prompt is not valid UTF-8: %w", domain.ErrDetection)
	}

	text := normalizeWhitespace(strings.ToLower(prompt))
	words := make(map[string]struct{})
	for _, w := range tokenize(text) {
		words[w] = struct{}{}
	}

	var (
		phrases []string
		matched = make(map[domain.ReferenceCategory]bool)
		rank    = -1
	)
	for _, rule := range referenceRules {
		hit, ok := rule.match(text, words)
		if !ok {
			continue
		}
		phrases = append(phrases, hit)
		matched[rule.category] = true
		if r := confidenceRank(rule.confidence); r > rank {
			rank = r
		}
	}

	if len(matched) == 0 {
		return domain.DetectionResult{
			HasReference: false,
			Category:     domain.ReferenceNone,
			Confidence:   domain.ConfidenceLow,
		}, nil
	}

	category := domain.ReferenceNone
	for _, c := range categoryPriority {
		if matched[c] {
			category = c
			break
		}
	}
	if matched[domain.ReferenceVariation] && len(matched) > 1 {
		category = domain.ReferenceVariation
	}

	if len(matched) > 1 && rank < len(confidenceLevels)-1 {
		rank++
	}

	return domain.DetectionResult{
		HasReference: true,
		Category:     category,
		Confidence:   confidenceLevels[rank],
		Phrases:      domain.StringArray(dropContainedPhrases(dedupeStrings(phrases))),
	}, nil
}

// match reports whether the rule fires on the normalized text and returns
// the evidence phrase. Single-word literals match whole words only, so
// "except" does not fire on "exceptional".
func (r referenceRule) match(text string, words map[string]struct{}) (string, bool) {
	if r.pattern != nil {
		if m := r.pattern.FindString(text); m != "" {
			return m, true
		}
		return "", false
	}
	if strings.ContainsRune(r.phrase, ' ') {
		if strings.Contains(text, r.phrase) {
			return r.phrase, true
		}
		return "", false
	}
	if _, ok := words[r.phrase]; ok {
		return r.phrase, true
	}
	return "", false
}

// dropContainedPhrases removes any phrase that is a substring of another,
// keeping the more specific evidence ("based on my castle" over
// "based on my"). Input order is preserved.
func dropContainedPhrases(phrases []string) []string {
	if len(phrases) < 2 {
		return phrases
	}
	kept := make([]string, 0, len(phrases))
	for i, p := range phrases {
		contained := false
		for j, q := range phrases {
			if i != j && len(q) > len(p) && strings.Contains(q, p) {
				contained = true
				break
			}
		}
		if !contained {
			kept = append(kept, p)
		}
	}
	return kept
}
