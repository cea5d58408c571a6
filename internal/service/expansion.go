package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/prompts"
)

const (
	// Prompts longer than this are already descriptive; expansion would only
	// dilute them.
	maxExpandableRunes = 300

	// Expansions shorter than this are treated as a failed generation.
	minExpansionRunes = 10

	expansionMaxTokens = 300
	analysisMaxTokens  = 200
)

// PromptExpansionService polishes composed prompts with an LLM and extracts
// a short intent analysis. It is strictly best-effort: when disabled or when
// the model misbehaves, callers get their input back, never an error.
type PromptExpansionService struct {
	client   *resty.Client
	model    string
	endpoint string
	baseURL  string
	logger   *logger.Logger
	enabled  bool
}

// NewPromptExpansionService creates a new prompt expansion service.
// A nil or disabled config yields a disabled service whose methods all
// fall through to their inputs.
func NewPromptExpansionService(cfg *config.LLMConfig, log *logger.Logger) *PromptExpansionService {
	if cfg == nil || !cfg.Enabled {
		return &PromptExpansionService{enabled: false, logger: log}
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(30 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &PromptExpansionService{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
		baseURL:  baseURL,
		logger:   log,
		enabled:  true,
	}
}

// IsEnabled returns whether expansion is enabled
func (s *PromptExpansionService) IsEnabled() bool {
	return s.enabled
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *PromptExpansionService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	MaxTokens   int                     `json:"max_tokens"`
	Temperature float32                 `json:"temperature"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ExpandWithContext rewrites a composed prompt into a richer visual
// description, feeding retrieved past creations to the model as context.
// On any failure the composed prompt comes back unchanged.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - prompt: the composed prompt to polish.
//   - matches: retrieved creations used as inspiration, best first.
//
// Returns:
//   - string: the expanded prompt, or the input when expansion is off or fails.
func (s *PromptExpansionService) ExpandWithContext(ctx context.Context, prompt string, matches []domain.MemoryMatch) string {
	if !s.enabled || strings.TrimSpace(prompt) == "" {
		return prompt
	}
	if len([]rune(prompt)) > maxExpandableRunes {
		return prompt
	}

	system := prompts.ExpansionSystemPrompt + memoryContextBlock(matches)
	expanded, err := s.complete(ctx, system, prompts.ExpansionUserPrompt+prompt, expansionMaxTokens, 0.7)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Prompt expansion failed, using composed prompt")
		return prompt
	}
	if len([]rune(expanded)) < minExpansionRunes {
		return prompt
	}
	return expanded
}

// Analyze extracts a short intent analysis of the prompt, covering subject,
// style, setting, and how the request relates to past creations. Returns an
// empty string when disabled or on failure; the record's Analysis field is
// simply left empty in that case.
func (s *PromptExpansionService) Analyze(ctx context.Context, prompt string, matches []domain.MemoryMatch) string {
	if !s.enabled || strings.TrimSpace(prompt) == "" {
		return ""
	}

	user := prompts.AnalysisPrompt + prompt
	if len(matches) > 0 {
		user += prompts.AnalysisMemoryAddendum
	}
	analysis, err := s.complete(ctx, "", user, analysisMaxTokens, 0.3)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Prompt analysis failed, leaving analysis empty")
		return ""
	}
	return analysis
}

// Available probes the backing model endpoint. A disabled service reports
// false without any network call.
func (s *PromptExpansionService) Available(ctx context.Context) bool {
	if !s.enabled {
		return false
	}
	resp, err := s.client.R().SetContext(ctx).Get(s.baseURL + "/models")
	if err != nil {
		return false
	}
	return resp.StatusCode() >= 200 && resp.StatusCode() < 300
}

// complete runs one chat completion and returns the trimmed content.
func (s *PromptExpansionService) complete(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error) {
	messages := make([]chatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatCompletionMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatCompletionMessage{Role: "user", Content: user})

	req := chatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var resp chatCompletionResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", fmt.Errorf("chat completion error: %s", resp.Error.Message)
		}
		return "", fmt.Errorf("chat completion error: status %d", httpResp.StatusCode())
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return stripThinkBlock(resp.Choices[0].Message.Content), nil
}

// memoryContextBlock renders retrieved creations for the expansion system
// prompt, numbered with similarity percentages and tags.
func memoryContextBlock(matches []domain.MemoryMatch) string {
	if len(matches) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(prompts.ExpansionMemoryContextHeader)
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. %q (similarity: %.0f%%)\n", i+1, m.Prompt, m.Score*100)
		if len(m.Tags) > 0 {
			sb.WriteString("   Tags: " + strings.Join(m.Tags, ", ") + "\n")
		}
	}
	sb.WriteString(prompts.ExpansionMemoryContextFooter)
	return sb.String()
}

// stripThinkBlock drops a reasoning model's <think>...</think> preamble and
// returns the trimmed remainder.
func stripThinkBlock(content string) string {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "<think>")
	if start == -1 {
		return content
	}
	end := strings.Index(content, "</think>")
	if end == -1 {
		return content
	}
	return strings.TrimSpace(content[end+len("</think>"):])
}
