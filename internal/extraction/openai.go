package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sifralabs/mesora/internal/finding"
)

const extractionSystemPrompt = `You identify Talmudic references in text. ` +
	`Given a passage, return a JSON array of objects with these fields: ` +
	`"type" (one of connection, root_match, thematic_fit, new_form, reference), ` +
	`"source" (the cited tractate and page, e.g. "Berakhot 2a"), ` +
	`"snippet" (the exact text fragment containing the reference), ` +
	`"confidence" (0-100), ` +
	`"justification" (one sentence explaining the identification), and optionally ` +
	`"alternatives" (an array of {"source","reasoning","score"} ranked best first). ` +
	`Return [] when the passage contains no references. Return only JSON.`

// extractedFinding is the wire shape of one finding in the model response.
type extractedFinding struct {
	Type          string  `json:"type"`
	Source        string  `json:"source"`
	Target        string  `json:"target,omitempty"`
	Snippet       string  `json:"snippet"`
	Confidence    float64 `json:"confidence"`
	Justification string  `json:"justification"`
	Alternatives  []struct {
		Source    string  `json:"source"`
		Text      string  `json:"text,omitempty"`
		Reasoning string  `json:"reasoning,omitempty"`
		Score     float64 `json:"score,omitempty"`
	} `json:"alternatives,omitempty"`
}

// OpenAIClient extracts references through an OpenAI-compatible chat API.
type OpenAIClient struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIClient creates an extraction client against an OpenAI-compatible
// endpoint.
func NewOpenAIClient(cfg Config, logger *zap.Logger) (*OpenAIClient, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger,
	}, nil
}

// Extract asks the model for references in span and parses the response
// into pending findings.
func (c *OpenAIClient) Extract(ctx context.Context, span string, scope string) ([]*finding.Finding, error) {
	if span == "" {
		return nil, ErrEmptySpan
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.TimeoutSeconds)*time.Second)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: span},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	findings, err := parseFindings(resp.Choices[0].Message.Content, scope)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("extraction completed",
		zap.String("scope", scope),
		zap.String("model", c.config.Model),
		zap.Int("findings", len(findings)))

	return findings, nil
}

// parseFindings converts a model response into findings, tolerating
// markdown code fences around the JSON.
func parseFindings(content, scope string) ([]*finding.Finding, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var extracted []extractedFinding
	if err := json.Unmarshal([]byte(content), &extracted); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	findings := make([]*finding.Finding, 0, len(extracted))
	for _, e := range extracted {
		if e.Source == "" || e.Snippet == "" {
			continue
		}

		typ := finding.Type(e.Type)
		if !typ.Valid() {
			typ = finding.TypeReference
		}

		f, err := finding.New(scope, typ, e.Source, e.Snippet)
		if err != nil {
			continue
		}
		f.Target = e.Target
		f.Justification = e.Justification
		f.Confidence = clampConfidence(e.Confidence)
		for _, a := range e.Alternatives {
			if a.Source == "" {
				continue
			}
			f.Alternatives = append(f.Alternatives, finding.Alternative{
				Source:    a.Source,
				Text:      a.Text,
				Reasoning: a.Reasoning,
				Score:     a.Score,
			})
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

var _ Client = (*OpenAIClient)(nil)
