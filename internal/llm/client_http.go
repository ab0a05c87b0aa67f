package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"quill/internal/logging"
)

// GeminiHTTPClient implements Completer against the Gemini REST API
// directly. It is the fallback path when the provider SDK cannot be
// constructed. Multi-part and tool features are unavailable on this path.
type GeminiHTTPClient struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// GeminiHTTPConfig holds configuration for the REST client.
type GeminiHTTPConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiHTTPConfig returns sensible defaults.
func DefaultGeminiHTTPConfig(apiKey string) GeminiHTTPConfig {
	return GeminiHTTPConfig{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-2.5-flash",
		Timeout: 120 * time.Second,
	}
}

// NewGeminiHTTPClient creates a new REST client with default config.
func NewGeminiHTTPClient(apiKey string) *GeminiHTTPClient {
	return NewGeminiHTTPClientWithConfig(DefaultGeminiHTTPConfig(apiKey))
}

// NewGeminiHTTPClientWithConfig creates a new REST client.
func NewGeminiHTTPClientWithConfig(config GeminiHTTPConfig) *GeminiHTTPClient {
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GeminiHTTPClient{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// geminiContent mirrors the REST API content structure.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single prompt with no history or system message.
func (c *GeminiHTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteChat(ctx, "", []Message{{Role: RoleHuman, Text: prompt}})
}

// CompleteChat sends the full conversation and returns the next assistant
// message.
func (c *GeminiHTTPClient) CompleteChat(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	logging.APIDebug("[GeminiHTTP] CompleteChat: model=%s turns=%d system_len=%d",
		c.model, len(history), len(systemPrompt))

	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}
	if len(history) == 0 {
		return "", fmt.Errorf("empty conversation")
	}

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := geminiRequest{
		Contents: make([]geminiContent, 0, len(history)),
	}
	for _, msg := range history {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		reqBody.Contents = append(reqBody.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Text}},
		})
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	// Retry loop for rate limits and transient failures
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return "", fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(string(body), 200))
			continue
		}

		var parsed geminiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			lastErr = fmt.Errorf("failed to parse response: %w", err)
			continue
		}
		if parsed.Error != nil {
			lastErr = fmt.Errorf("API error %d: %s", parsed.Error.Code, parsed.Error.Message)
			continue
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			lastErr = fmt.Errorf("no candidates in response")
			continue
		}

		var sb strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			lastErr = fmt.Errorf("empty candidate text")
			continue
		}
		return text, nil
	}

	logging.Get(logging.CategoryAPI).Error("[GeminiHTTP] all retries failed: %v", lastErr)
	return "", lastErr
}

// Name identifies the client for diagnostics.
func (c *GeminiHTTPClient) Name() string {
	return fmt.Sprintf("gemini-http:%s", c.model)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
