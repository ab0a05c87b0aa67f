package llm

import (
	"context"
	"fmt"
	"strings"

	"quill/internal/logging"

	"google.golang.org/genai"
)

// GenAIClient implements Completer using Google's genai SDK.
// This is the primary provider path.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a genai-backed client.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIClient{client: client, model: model}, nil
}

// Complete sends a single prompt with no history or system message.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteChat(ctx, "", []Message{{Role: RoleHuman, Text: prompt}})
}

// CompleteChat sends the full conversation and returns the next assistant
// message.
func (c *GenAIClient) CompleteChat(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "genai.CompleteChat")
	defer timer.Stop()

	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("empty conversation")
	}

	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}

	logging.APIDebug("genai request: model=%s turns=%d system_len=%d",
		c.model, len(contents), len(systemPrompt))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("genai call failed: %v", err)
		return "", fmt.Errorf("genai call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("genai returned empty response")
	}

	logging.APIDebug("genai response: %d chars", len(text))
	return text, nil
}

// Name identifies the client for diagnostics.
func (c *GenAIClient) Name() string {
	return fmt.Sprintf("genai:%s", c.model)
}
