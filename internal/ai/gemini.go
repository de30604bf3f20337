package ai

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Gemini speaks the generateContent API. The key travels as a query
// parameter and the system prompt is folded into the single user turn.
type Gemini struct {
	transport
	apiKey string
	model  string
}

func newGemini(cfg Config, logger *zap.Logger) *Gemini {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{
		transport: newTransport("gemini", "https://generativelanguage.googleapis.com", cfg, logger),
		apiKey:    cfg.APIKey,
		model:     model,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string  `json:"responseMimeType"`
		Temperature      float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *Gemini) Name() string { return p.name }

func (p *Gemini) request(c *resty.Client) *resty.Request {
	return c.R().SetQueryParam("key", p.apiKey)
}

func (p *Gemini) Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var payload geminiRequest
	payload.Contents = []geminiContent{{Parts: []geminiPart{{Text: systemPrompt + "\n\n" + userPrompt}}}}
	payload.GenerationConfig.ResponseMimeType = "application/json"
	payload.GenerationConfig.Temperature = 0.3

	path := "/v1beta/models/" + p.model + ":generateContent"
	return p.postWithRetry(ctx, p.request(p.http), path, payload, func(body []byte) (string, error) {
		var out geminiResponse
		if err := decodeJSON(body, &out); err != nil {
			return "", err
		}
		if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
			return "", errors.New("response has no candidates")
		}
		return out.Candidates[0].Content.Parts[0].Text, nil
	})
}

// TestConnection lists the available models.
func (p *Gemini) TestConnection(ctx context.Context) bool {
	return p.ping(ctx, p.request(p.check), http.MethodGet, "/v1beta/models")
}
