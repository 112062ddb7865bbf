package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koshedutech/candlewatch/internal/httpretry"
	"github.com/koshedutech/candlewatch/internal/logging"
)

// Provider selects the LLM backend to call. Each is spoken over raw HTTP,
// no vendor SDK.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

// LLMConfig configures an LLM-backed advisor.
type LLMConfig struct {
	Provider    Provider
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func (c LLMConfig) endpoint() string {
	switch c.Provider {
	case ProviderOpenAI:
		return "https://api.openai.com/v1/chat/completions"
	case ProviderDeepSeek:
		return "https://api.deepseek.com/v1/chat/completions"
	default:
		return "https://api.anthropic.com/v1/messages"
	}
}

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature,omitempty"`
	System      string       `json:"system,omitempty"`
	Messages    []llmMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIRequest struct {
	Model       string       `json:"model"`
	Messages    []llmMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// llmClient is the shared raw-HTTP completion call both FastAdvisor and
// DeepAdvisor LLM implementations use.
type llmClient struct {
	cfg    LLMConfig
	http   *http.Client
	logger *logging.Logger
}

func newLLMClient(cfg LLMConfig, logger *logging.Logger) *llmClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	retry := httpretry.New(logger)
	hc := retry.StandardClient()
	hc.Timeout = cfg.Timeout
	return &llmClient{cfg: cfg, http: hc, logger: logger}
}

func (c *llmClient) complete(ctx context.Context, system, user string) (string, error) {
	var body []byte
	var err error
	switch c.cfg.Provider {
	case ProviderOpenAI, ProviderDeepSeek:
		body, err = json.Marshal(openAIRequest{
			Model:       c.cfg.Model,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			Messages: []llmMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		})
	default:
		body, err = json.Marshal(claudeRequest{
			Model:       c.cfg.Model,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			System:      system,
			Messages:    []llmMessage{{Role: "user", Content: user}},
		})
	}
	if err != nil {
		return "", fmt.Errorf("marshal advisor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build advisor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.cfg.Provider {
	case ProviderOpenAI, ProviderDeepSeek:
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	default:
		req.Header.Set("x-api-key", c.cfg.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("advisor request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read advisor response: %w", err)
	}

	switch c.cfg.Provider {
	case ProviderOpenAI, ProviderDeepSeek:
		var parsed openAIResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("unmarshal advisor response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("advisor API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("empty advisor response")
		}
		return parsed.Choices[0].Message.Content, nil
	default:
		var parsed claudeResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("unmarshal advisor response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("advisor API error: %s", parsed.Error.Message)
		}
		if len(parsed.Content) == 0 {
			return "", fmt.Errorf("empty advisor response")
		}
		return parsed.Content[0].Text, nil
	}
}

// extractJSON strips the common "```json ... ```" fencing some LLM replies
// wrap structured output in, before attempting to unmarshal.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
