// Package extraction invokes the expensive reference-finding call: an
// OpenAI-compatible LLM client plus a zero-cost heuristic citation scanner.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/finding"
)

// Common errors for extraction operations.
var (
	ErrNoAPIKey        = errors.New("extraction API key is required")
	ErrEmptySpan       = errors.New("span cannot be empty")
	ErrInvalidResponse = errors.New("extraction response is not valid JSON")
)

// Client finds candidate references in a text span. Implementations return
// pending findings only; review transitions happen elsewhere.
type Client interface {
	Extract(ctx context.Context, span string, scope string) ([]*finding.Finding, error)
}

// Config holds configuration for the extraction client.
type Config struct {
	// Provider selects the implementation: "openai" or "heuristic".
	// Default: "heuristic" (no API key needed).
	Provider string `koanf:"provider"`

	// APIKey authenticates against the OpenAI-compatible endpoint.
	APIKey string `koanf:"api_key"`

	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL string `koanf:"base_url"`

	// Model is the model name. Default: gpt-4o-mini.
	Model string `koanf:"model"`

	// MaxTokens caps the completion size. Default: 2048.
	MaxTokens int `koanf:"max_tokens"`

	// TimeoutSeconds bounds each API call. Default: 30.
	TimeoutSeconds int `koanf:"timeout_seconds"`

	// RateLimit is the sustained requests-per-second budget. Default: 2.
	RateLimit float64 `koanf:"rate_limit"`

	// Burst is the rate limiter burst size. Default: 4.
	Burst int `koanf:"burst"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "heuristic"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.RateLimit == 0 {
		c.RateLimit = 2
	}
	if c.Burst == 0 {
		c.Burst = 4
	}
}

// NewClient creates an extraction client from config.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	cfg.ApplyDefaults()
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg, logger)
	case "heuristic":
		return NewHeuristic(logger)
	default:
		return nil, fmt.Errorf("unsupported extraction provider %q (supported: openai, heuristic)", cfg.Provider)
	}
}
