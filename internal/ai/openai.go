package ai

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// OpenAICompatible speaks the chat-completions API. OpenAI and xAI Grok
// differ only in their default endpoint and model.
type OpenAICompatible struct {
	transport
	apiKey string
	model  string
}

func newOpenAICompatible(name, baseURL, model string, cfg Config, logger *zap.Logger) *OpenAICompatible {
	if cfg.Model != "" {
		model = cfg.Model
	}
	return &OpenAICompatible{
		transport: newTransport(name, baseURL, cfg, logger),
		apiKey:    cfg.APIKey,
		model:     model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAICompatible) Name() string { return p.name }

func (p *OpenAICompatible) request(c *resty.Client) *resty.Request {
	return c.R().SetAuthToken(p.apiKey)
}

func (p *OpenAICompatible) Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := chatCompletionRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0.3,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	return p.postWithRetry(ctx, p.request(p.http), "/v1/chat/completions", payload, func(body []byte) (string, error) {
		var out chatCompletionResponse
		if err := decodeJSON(body, &out); err != nil {
			return "", err
		}
		if len(out.Choices) == 0 {
			return "", errors.New("response has no choices")
		}
		return out.Choices[0].Message.Content, nil
	})
}

// TestConnection lists the available models.
func (p *OpenAICompatible) TestConnection(ctx context.Context) bool {
	return p.ping(ctx, p.request(p.check), http.MethodGet, "/v1/models")
}
