package ai

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Ollama talks to a local Ollama server. No credentials are needed.
type Ollama struct {
	transport
	model string
}

func newOllama(cfg Config, logger *zap.Logger) *Ollama {
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	return &Ollama{
		transport: newTransport("ollama", "http://localhost:11434", cfg, logger),
		model:     model,
	}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format"`
}

type ollamaChatResponse struct {
	Message *chatMessage `json:"message"`
}

func (p *Ollama) Name() string { return p.name }

func (p *Ollama) request(c *resty.Client) *resty.Request {
	return c.R()
}

func (p *Ollama) Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := ollamaChatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Format: "json",
	}
	return p.postWithRetry(ctx, p.request(p.http), "/api/chat", payload, func(body []byte) (string, error) {
		var out ollamaChatResponse
		if err := decodeJSON(body, &out); err != nil {
			return "", err
		}
		if out.Message == nil {
			return "", errors.New("response has no message")
		}
		return out.Message.Content, nil
	})
}

// TestConnection lists the installed models.
func (p *Ollama) TestConnection(ctx context.Context) bool {
	return p.ping(ctx, p.request(p.check), http.MethodGet, "/api/tags")
}
