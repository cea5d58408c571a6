package service

import "strings"

const maxAnalysisEmbeddingRunes = 240

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// compactAnalysis trims the LLM analysis down to its leading runes so a long
// rambling paragraph can't dominate the embedding.
func compactAnalysis(text string) string {
	cleaned := normalizeWhitespace(strings.TrimSpace(text))
	if cleaned == "" {
		return ""
	}

	runes := []rune(cleaned)
	if len(runes) <= maxAnalysisEmbeddingRunes {
		return cleaned
	}
	return string(runes[:maxAnalysisEmbeddingRunes])
}

// buildEmbeddingText assembles the canonical text embedded for a creation.
// Segments are labeled and newline-joined; empty segments are dropped so two
// records with the same populated fields embed identically.
func buildEmbeddingText(prompt, enriched, analysis string, tags []string) string {
	segments := make([]string, 0, 4)
	if p := normalizeWhitespace(prompt); p != "" {
		segments = append(segments, "original:"+p)
	}
	if e := normalizeWhitespace(enriched); e != "" && e != normalizeWhitespace(prompt) {
		segments = append(segments, "enriched:"+e)
	}
	if a := compactAnalysis(analysis); a != "" {
		segments = append(segments, "analysis:"+a)
	}
	tags = dedupeStrings(tags)
	if len(tags) > 0 {
		segments = append(segments, "tags:"+strings.Join(tags, " "))
	}
	return strings.Join(segments, "\n")
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
