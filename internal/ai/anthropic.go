package ai

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

// Anthropic speaks the Messages API.
type Anthropic struct {
	transport
	apiKey string
	model  string
}

func newAnthropic(cfg Config, logger *zap.Logger) *Anthropic {
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Anthropic{
		transport: newTransport("anthropic", "https://api.anthropic.com", cfg, logger),
		apiKey:    cfg.APIKey,
		model:     model,
	}
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Anthropic) Name() string { return p.name }

func (p *Anthropic) request(c *resty.Client) *resty.Request {
	return c.R().
		SetHeader("x-api-key", p.apiKey).
		SetHeader("anthropic-version", anthropicVersion)
}

func (p *Anthropic) Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := messagesRequest{
		Model:     p.model,
		MaxTokens: 4096,
		System:    systemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: userPrompt}},
	}
	return p.postWithRetry(ctx, p.request(p.http), "/v1/messages", payload, func(body []byte) (string, error) {
		var out messagesResponse
		if err := decodeJSON(body, &out); err != nil {
			return "", err
		}
		if len(out.Content) == 0 {
			return "", errors.New("response has no content blocks")
		}
		return out.Content[0].Text, nil
	})
}

// TestConnection sends a minimal message.
func (p *Anthropic) TestConnection(ctx context.Context) bool {
	req := p.request(p.check).SetBody(messagesRequest{
		Model:     p.model,
		MaxTokens: 10,
		Messages:  []chatMessage{{Role: "user", Content: "Hi"}},
	})
	return p.ping(ctx, req, http.MethodPost, "/v1/messages")
}
