package service

import (
	"fmt"
	"strings"

	"github.com/rin/mnemo/internal/domain"
)

// defaultContextLimit bounds how many retrieved creations feed one prompt.
const defaultContextLimit = 3

// maxComposedAttributes bounds how many inherited attributes are appended,
// keeping composed prompts short enough for image generation.
const maxComposedAttributes = 8

// composerTemplates is package-level policy: the wording may change freely,
// the provenance and non-loss guarantees of Compose may not. Every template
// takes the original prompt first and the joined attributes second.
var composerTemplates = map[domain.ReferenceCategory]string{
	domain.ReferenceExplicit:    "%s, styled after my earlier work: %s",
	domain.ReferenceTemporal:    "%s, recalling my recent creations: %s",
	domain.ReferenceVariation:   "%s, keeping the %s of the original",
	domain.ReferenceComparative: "%s, in the spirit of my past pieces: %s",
}

const composerFallbackTemplate = "%s, drawing on my past creations: %s"

// ContextComposer turns retrieved creations into an enriched prompt. It is
// deterministic and does no I/O: identical inputs always produce identical
// output.
type ContextComposer struct {
	contextLimit int
}

// NewContextComposer creates a composer that considers at most contextLimit
// retrieved creations per prompt (the default when contextLimit <= 0).
func NewContextComposer(contextLimit int) *ContextComposer {
	if contextLimit <= 0 {
		contextLimit = defaultContextLimit
	}
	return &ContextComposer{contextLimit: contextLimit}
}

// Compose enriches a prompt with attributes inherited from retrieved
// creations.
//
// The original prompt always survives verbatim as a prefix of the enriched
// prompt, so a variation delta like "but with wings" is never overridden.
// Attributes are the matched records' tags minus terms already present in
// the prompt; a record lands in usedIDs only when at least one of its
// attributes made it into the enriched prompt.
//
// Parameters:
//   - prompt: the original user prompt
//   - detection: the reference detection result for the prompt
//   - matches: retrieved creations, ordered by similarity descending
//
// Returns:
//   - string: the enriched prompt (the original when nothing contributes)
//   - []string: IDs of the records that contributed, in match order
func (c *ContextComposer) Compose(prompt string, detection domain.DetectionResult, matches []domain.MemoryMatch) (string, []string) {
	if !detection.HasReference || len(matches) == 0 {
		return prompt, nil
	}

	promptWords := make(map[string]struct{})
	for _, w := range tokenize(prompt) {
		promptWords[w] = struct{}{}
	}
	loweredPrompt := strings.ToLower(prompt)

	limit := c.contextLimit
	if limit > len(matches) {
		limit = len(matches)
	}

	var (
		attributes []string
		usedIDs    []string
		seen       = make(map[string]struct{})
	)
	for _, match := range matches[:limit] {
		tags := match.Tags
		if len(tags) == 0 {
			tags = extractTags(match.Prompt, match.EnrichedPrompt)
		}

		contributed := false
		for _, tag := range tags {
			if len(attributes) >= maxComposedAttributes {
				break
			}
			attr := strings.ToLower(tag)
			if attr == "" {
				continue
			}
			if _, dup := seen[attr]; dup {
				continue
			}
			if promptContainsTerm(loweredPrompt, promptWords, attr) {
				continue
			}
			seen[attr] = struct{}{}
			attributes = append(attributes, attr)
			contributed = true
		}
		if contributed {
			usedIDs = append(usedIDs, match.ID)
		}
	}

	if len(attributes) == 0 {
		return prompt, nil
	}

	template, ok := composerTemplates[detection.Category]
	if !ok {
		template = composerFallbackTemplate
	}
	return fmt.Sprintf(template, prompt, humanJoin(attributes)), usedIDs
}

// promptContainsTerm reports whether the prompt already carries a term.
// Plain words match whole tokens only; terms with separators ("sci-fi")
// fall back to substring search.
func promptContainsTerm(loweredPrompt string, words map[string]struct{}, term string) bool {
	for _, r := range term {
		if !isTokenRune(r) {
			return strings.Contains(loweredPrompt, term)
		}
	}
	_, ok := words[term]
	return ok
}

// humanJoin renders a short attribute list as prose: "a", "a and b",
// "a, b and c".
func humanJoin(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
