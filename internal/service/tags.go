package service

import (
	"strings"

	"github.com/rin/mnemo/internal/prompts"
)

// maxTags caps how many tags a single creation carries.
const maxTags = 10

// tagCategories maps a derived category tag to the trigger words that imply
// it. Order matters for deterministic output, so this is a slice, not a map.
var tagCategories = []struct {
	tag      string
	triggers []string
}{
	{"sci-fi", []string{"robot", "cyberpunk", "futuristic", "sci-fi"}},
	{"fantasy", []string{"dragon", "magic", "fantasy", "medieval", "castle"}},
	{"nature", []string{"nature", "forest", "tree", "flower", "mountain"}},
	{"urban", []string{"city", "building", "urban", "street"}},
}

// extractTags derives up to maxTags descriptive tags from the given texts.
// Matching is case-insensitive substring search over the concatenated input,
// walking each lexicon in declaration order so identical input always yields
// identical tags.
func extractTags(texts ...string) []string {
	var sb strings.Builder
	for _, t := range texts {
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.ToLower(t))
	}
	haystack := sb.String()
	if haystack == "" {
		return nil
	}

	var tags []string
	for _, lexicon := range [][]string{
		prompts.ObjectWords,
		prompts.StyleWords,
		prompts.EnvironmentWords,
		prompts.MoodWords,
	} {
		for _, word := range lexicon {
			if strings.Contains(haystack, word) {
				tags = append(tags, word)
			}
		}
	}

	for _, cat := range tagCategories {
		for _, trigger := range cat.triggers {
			if strings.Contains(haystack, trigger) {
				tags = append(tags, cat.tag)
				break
			}
		}
	}

	tags = dedupeStrings(tags)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}
