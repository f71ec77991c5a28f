// Package llm abstracts the completion backends used for observation
// extraction and consolidation.
//
// The built-in adapters speak the Anthropic and OpenAI HTTP APIs
// directly with rate limiting and retry; FromLangChain bridges any
// langchaingo model; Fake is a scripted adapter for tests and offline
// runs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 4096
	defaultTemperature      = 0.3
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

var (
	// ErrEmptyResponse indicates the provider returned no content.
	ErrEmptyResponse = errors.New("llm: empty response from provider")
	// ErrUnknownProvider indicates an unrecognized provider name.
	ErrUnknownProvider = errors.New("llm: unknown provider")
	// ErrMissingAPIKey indicates a provider that needs a key got none.
	ErrMissingAPIKey = errors.New("llm: api key required")
)

// Request is one completion call.
type Request struct {
	// System is the system prompt; empty means none.
	System string
	// Prompt is the user-turn content.
	Prompt string
	// MaxTokens caps the response length. Zero means the adapter
	// default.
	MaxTokens int
	// Temperature defaults to a low value for consistent extraction.
	Temperature float64
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxTokens
}

func (r Request) temperature() float64 {
	if r.Temperature > 0 {
		return r.Temperature
	}
	return defaultTemperature
}

// Adapter is a completion backend.
type Adapter interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Name identifies the backing provider, for logs.
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of anthropic, openai, fake.
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	// BaseURL overrides the provider endpoint, for proxies and
	// OpenAI-compatible servers.
	BaseURL string `koanf:"base_url"`
	// TimeoutSeconds bounds one HTTP request. Zero means 60.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

// New builds the adapter cfg names.
func New(cfg Config) (Adapter, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropic(cfg)
	case "openai":
		return newOpenAI(cfg)
	case "fake":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst)
}

// withRetries runs fn with exponential backoff. Only errors wrapped as
// retryable are tried again; everything else fails immediately.
func withRetries(ctx context.Context, maxRetries int, base time.Duration, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := base * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
