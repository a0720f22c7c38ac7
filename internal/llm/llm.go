package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/preflight/internal/llm/prompts"
	"github.com/pavelanni/preflight/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Advice is the model's mitigation guidance for one assessment.
type Advice struct {
	Summary     string   `json:"summary"`
	Mitigations []string `json:"mitigations"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.Variant
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.Variant(variant),
	}, nil
}

// Ping checks that the endpoint answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range list.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by endpoint", c.model)
}

// Advise asks the model for mitigations for the assessment's risk factors.
// questions are used to turn response ids into readable text.
func (c *Client) Advise(ctx context.Context, a *model.Assessment, questions []model.Question) (*Advice, error) {
	data := prompts.NewAdviceData(a, model.NewLabelLookup(questions))
	systemPrompt, err := prompts.BuildAdvicePrompt(c.variant, data)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "What should I do to reduce these risks?"},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "assessment", a.ID, "raw", raw)
	return parseAdvice(raw)
}

func parseAdvice(raw string) (*Advice, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON in a markdown fence despite the response format.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var advice Advice
	if err := json.Unmarshal([]byte(raw), &advice); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if advice.Summary == "" && len(advice.Mitigations) == 0 {
		return nil, fmt.Errorf("LLM response has no advice (raw: %s)", raw)
	}
	return &advice, nil
}
