// Package ai talks to the language-model backends that produce climate
// suggestions. Every backend satisfies Provider and is chosen by type tag.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Provider type tags accepted by NewProvider.
const (
	TypeNone      = "none"
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeGemini    = "gemini"
	TypeOllama    = "ollama"
	TypeGrok      = "grok"
)

const (
	DefaultTimeout     = 120 * time.Second
	ConnectionTimeout  = 30 * time.Second
	maxAttempts        = 3
	maxErrorBodyLength = 500
)

// DefaultBackoff is the wait before each retry of a connection failure.
var DefaultBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

var (
	// ErrConnection marks transport failures, timeouts and 5xx replies.
	// Only these are retried.
	ErrConnection = errors.New("ai provider connection error")
	// ErrResponse marks replies that cannot be used.
	ErrResponse = errors.New("ai provider response error")
)

// Provider produces raw model output for a pair of prompts.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	TestConnection(ctx context.Context) bool
}

// Config selects and parameterizes a provider. Empty fields take the
// provider's defaults.
type Config struct {
	Type    string
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Backoff []time.Duration
}

var factories = map[string]func(Config, *zap.Logger) Provider{
	TypeOpenAI: func(c Config, l *zap.Logger) Provider {
		return newOpenAICompatible("openai", "https://api.openai.com", "gpt-4o-mini", c, l)
	},
	TypeGrok: func(c Config, l *zap.Logger) Provider {
		return newOpenAICompatible("grok", "https://api.x.ai", "grok-3-mini", c, l)
	},
	TypeAnthropic: func(c Config, l *zap.Logger) Provider { return newAnthropic(c, l) },
	TypeGemini:    func(c Config, l *zap.Logger) Provider { return newGemini(c, l) },
	TypeOllama:    func(c Config, l *zap.Logger) Provider { return newOllama(c, l) },
}

// NewProvider builds the provider for cfg.Type. "none" and unknown types
// yield a NoOp provider.
func NewProvider(cfg Config, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ai")

	factory, ok := factories[strings.ToLower(cfg.Type)]
	if !ok {
		if cfg.Type != "" && cfg.Type != TypeNone {
			logger.Warn("Unknown AI provider type; AI analysis disabled", zap.String("type", cfg.Type))
		}
		return NoOp{}
	}
	return factory(cfg, logger)
}

// NoOp is used when AI analysis is disabled.
type NoOp struct{}

func (NoOp) Name() string { return TypeNone }

func (NoOp) Analyze(context.Context, string, string) (string, error) { return "{}", nil }

func (NoOp) TestConnection(context.Context) bool { return true }

// transport is the HTTP plumbing shared by every remote provider. http
// retries connection failures and 5xx replies on the backoff schedule;
// check makes single-shot requests for connection tests.
type transport struct {
	name   string
	http   *resty.Client
	check  *resty.Client
	logger *zap.Logger
}

func newTransport(name, defaultBaseURL string, cfg Config, logger *zap.Logger) transport {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	logger = logger.With(zap.String("provider", name))

	client := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(timeout).
		SetLogger(logger.Sugar()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	check := client.Clone()

	client.
		SetRetryCount(maxAttempts-1).
		SetRetryWaitTime(minDuration(backoff)).
		SetRetryMaxWaitTime(maxDuration(backoff)).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			attempt := 1
			if resp != nil && resp.Request != nil {
				attempt = resp.Request.Attempt
			}
			return backoff[min(max(attempt-1, 0), len(backoff)-1)], nil
		}).
		AddRetryHook(func(resp *resty.Response, err error) {
			attempt := 0
			status := 0
			if resp != nil {
				status = resp.StatusCode()
				if resp.Request != nil {
					attempt = resp.Request.Attempt
				}
			}
			if attempt >= maxAttempts {
				return
			}
			logger.Warn("AI request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Int("status", status),
				zap.Error(err))
		})

	return transport{
		name:   name,
		http:   client,
		check:  check,
		logger: logger,
	}
}

// postWithRetry sends payload through the retrying client and hands a 200
// body to decode. Connection failures and 5xx replies are retried by resty;
// anything else fails at once.
func (t transport) postWithRetry(ctx context.Context, req *resty.Request, path string, payload interface{}, decode func([]byte) (string, error)) (string, error) {
	resp, err := req.SetContext(ctx).SetBody(payload).Post(path)
	attempts := 1
	if resp != nil && resp.Request != nil && resp.Request.Attempt > 0 {
		attempts = resp.Request.Attempt
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s request failed after %d attempts: %v", ErrConnection, t.name, attempts, err)
	}

	body := resp.Body()
	switch {
	case resp.StatusCode() >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: %s server error %d after %d attempts: %s", ErrConnection, t.name, resp.StatusCode(), attempts, truncate(body))
	case resp.StatusCode() != http.StatusOK:
		return "", fmt.Errorf("%w: %s returned %d: %s", ErrResponse, t.name, resp.StatusCode(), truncate(body))
	}

	text, err := decode(body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrResponse, t.name, err)
	}
	return text, nil
}

// ping reports whether a request answers 200 within ConnectionTimeout.
func (t transport) ping(ctx context.Context, req *resty.Request, method, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, ConnectionTimeout)
	defer cancel()

	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		t.logger.Warn("AI connection test failed", zap.Error(err))
		return false
	}
	if resp.StatusCode() != http.StatusOK {
		t.logger.Warn("AI connection test returned unexpected status", zap.Int("status", resp.StatusCode()))
		return false
	}
	return true
}

func minDuration(ds []time.Duration) time.Duration {
	out := ds[0]
	for _, d := range ds[1:] {
		out = min(out, d)
	}
	return out
}

func maxDuration(ds []time.Duration) time.Duration {
	out := ds[0]
	for _, d := range ds[1:] {
		out = max(out, d)
	}
	return out
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength]
	}
	return string(body)
}

func decodeJSON(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
