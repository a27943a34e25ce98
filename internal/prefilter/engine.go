// Package prefilter decides whether an extraction call should run for a
// text span, based on similarity to human-verified ground truth.
package prefilter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/finding"
	"github.com/sifralabs/mesora/internal/groundtruth"
)

// ErrEmptySpan is returned when the span to evaluate is empty.
var ErrEmptySpan = errors.New("span cannot be empty")

var tracer = otel.Tracer("mesora.prefilter")

// Config holds the decision thresholds. All are overridable per deployment.
type Config struct {
	// ApproveThreshold is the minimum similarity for an APPROVE match.
	// Strictly higher than RejectThreshold: auto-adding a wrong finding is
	// costlier than an unnecessary extraction call. Default: 0.90.
	ApproveThreshold float64 `koanf:"approve_threshold"`

	// RejectThreshold is the minimum similarity for a REJECT match.
	// Default: 0.85.
	RejectThreshold float64 `koanf:"reject_threshold"`

	// MinRejectCount is how many REJECT matches a skip requires. The floor
	// prevents a single spurious high-score reject from silencing a span.
	// Default: 2.
	MinRejectCount int `koanf:"min_reject_count"`

	// CoverageFloor is the fraction of the span's length the reject
	// phrases must exceed for a skip. Default: 0.30.
	CoverageFloor float64 `koanf:"coverage_floor"`

	// TopK is how many candidates to retrieve per evaluation. Default: 5.
	TopK int `koanf:"top_k"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ApproveThreshold == 0 {
		c.ApproveThreshold = 0.90
	}
	if c.RejectThreshold == 0 {
		c.RejectThreshold = 0.85
	}
	if c.MinRejectCount == 0 {
		c.MinRejectCount = 2
	}
	if c.CoverageFloor == 0 {
		c.CoverageFloor = 0.30
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ApproveThreshold <= 0 || c.ApproveThreshold > 1 {
		return fmt.Errorf("approve threshold must be in (0,1], got %v", c.ApproveThreshold)
	}
	if c.RejectThreshold <= 0 || c.RejectThreshold > 1 {
		return fmt.Errorf("reject threshold must be in (0,1], got %v", c.RejectThreshold)
	}
	if c.ApproveThreshold < c.RejectThreshold {
		return fmt.Errorf("approve threshold %v must not be below reject threshold %v",
			c.ApproveThreshold, c.RejectThreshold)
	}
	if c.MinRejectCount < 1 {
		return fmt.Errorf("min reject count must be at least 1, got %d", c.MinRejectCount)
	}
	if c.CoverageFloor < 0 || c.CoverageFloor > 1 {
		return fmt.Errorf("coverage floor must be in [0,1], got %v", c.CoverageFloor)
	}
	return nil
}

// Retriever fetches the top-k ground-truth candidates most similar to a
// span, ordered by descending score. A scope with no ground truth yields
// an empty slice, not an error.
type Retriever interface {
	Retrieve(ctx context.Context, span string, scope string, k int) ([]groundtruth.Candidate, error)
}

// UsageMarker is optionally implemented by retrievers that track per-example
// usage statistics.
type UsageMarker interface {
	MarkUsed(ctx context.Context, scope, id string) error
}

// Stats summarizes how retrieved candidates classified.
type Stats struct {
	// Total is the number of candidates retrieved.
	Total int `json:"total"`

	// HighConfidenceRejects is the number of REJECT matches at or above
	// the reject threshold.
	HighConfidenceRejects int `json:"high_confidence_rejects"`

	// HighConfidenceApproves is the number of APPROVE matches at or above
	// the approve threshold.
	HighConfidenceApproves int `json:"high_confidence_approves"`
}

// Result is a prefilter decision.
type Result struct {
	// Skip is true when the extraction call should not run.
	Skip bool `json:"skip"`

	// Reason is mandatory when Skip is true; it names the coverage
	// percentage for auditability.
	Reason string `json:"reason,omitempty"`

	// AutoFindings are pending findings synthesized from approved
	// matches, surfaced for human confirmation.
	AutoFindings []*finding.Finding `json:"auto_findings"`

	// Stats summarizes candidate classification.
	Stats Stats `json:"stats"`
}

// Engine is the prefilter decision core. Deterministic: the same span,
// scope, and retrieved candidates always produce the same decision.
type Engine struct {
	retriever Retriever
	config    Config
	logger    *zap.Logger
}

// NewEngine creates a prefilter engine.
func NewEngine(retriever Retriever, config Config, logger *zap.Logger) (*Engine, error) {
	if retriever == nil {
		return nil, errors.New("retriever cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &Engine{
		retriever: retriever,
		config:    config,
		logger:    logger,
	}, nil
}

// Evaluate decides whether extraction should run for span.
//
// A retrieval failure fails open: the span proceeds to extraction with
// zero candidates. A retrieval failure never suppresses extraction.
func (e *Engine) Evaluate(ctx context.Context, span string, scope string) (*Result, error) {
	ctx, tspan := tracer.Start(ctx, "prefilter.Engine.Evaluate")
	defer tspan.End()
	tspan.SetAttributes(
		attribute.String("scope", scope),
		attribute.Int("span_length", utf8.RuneCountInString(span)),
	)

	if span == "" {
		return nil, ErrEmptySpan
	}

	start := time.Now()
	defer func() {
		EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	candidates, err := e.retriever.Retrieve(ctx, span, scope, e.config.TopK)
	if err != nil {
		e.logger.Warn("retrieval failed, proceeding without prefilter",
			zap.String("scope", scope),
			zap.Error(err))
		EvaluationsTotal.WithLabelValues("fail_open").Inc()
		tspan.SetAttributes(attribute.Bool("fail_open", true))
		return &Result{AutoFindings: []*finding.Finding{}}, nil
	}

	var approved, rejected []groundtruth.Candidate
	for _, c := range candidates {
		switch {
		case c.Action == groundtruth.ActionApprove && c.Score >= e.config.ApproveThreshold:
			approved = append(approved, c)
		case c.Action == groundtruth.ActionReject && c.Score >= e.config.RejectThreshold:
			rejected = append(rejected, c)
		}
	}

	result := &Result{
		AutoFindings: []*finding.Finding{},
		Stats: Stats{
			Total:                  len(candidates),
			HighConfidenceRejects:  len(rejected),
			HighConfidenceApproves: len(approved),
		},
	}

	seen := make(map[string]bool)
	for _, c := range approved {
		key := normalizeKey(c.Phrase, c.CorrectSource)
		if seen[key] {
			continue
		}
		seen[key] = true

		f, err := e.synthesizeFinding(scope, c)
		if err != nil {
			e.logger.Warn("skipping unsynthesizable approved candidate",
				zap.String("example_id", c.ExampleID),
				zap.Error(err))
			continue
		}
		result.AutoFindings = append(result.AutoFindings, f)
	}
	AutoFindingsTotal.Add(float64(len(result.AutoFindings)))

	// An approval match always implies proceed: extraction may still find
	// additional references beyond the matched phrase.
	if len(approved) == 0 && len(rejected) >= e.config.MinRejectCount {
		coverage := rejectCoverage(span, rejected)
		if coverage > e.config.CoverageFloor {
			result.Skip = true
			result.Reason = fmt.Sprintf(
				"%d high-confidence rejected matches cover %.0f%% of the span",
				len(rejected), coverage*100)
		}
	}

	e.markUsed(ctx, scope, approved, rejected)

	outcome := "proceed"
	if result.Skip {
		outcome = "skip"
	}
	EvaluationsTotal.WithLabelValues(outcome).Inc()
	tspan.SetAttributes(
		attribute.Bool("skip", result.Skip),
		attribute.Int("auto_findings", len(result.AutoFindings)),
		attribute.Int("candidates", len(candidates)),
	)

	e.logger.Debug("prefilter evaluated",
		zap.String("scope", scope),
		zap.Bool("skip", result.Skip),
		zap.Int("candidates", len(candidates)),
		zap.Int("approved", len(approved)),
		zap.Int("rejected", len(rejected)),
		zap.Int("auto_findings", len(result.AutoFindings)))

	return result, nil
}

// synthesizeFinding materializes a pending finding from an approved match.
// Auto-findings always await human confirmation; they are never born Added.
func (e *Engine) synthesizeFinding(scope string, c groundtruth.Candidate) (*finding.Finding, error) {
	f, err := finding.New(scope, finding.TypeReference, c.CorrectSource, c.Phrase)
	if err != nil {
		return nil, err
	}
	f.Confidence = c.Score * 100
	f.Justification = fmt.Sprintf("Matches verified ground truth phrase %q (similarity %.2f)", c.Phrase, c.Score)
	f.IsGroundTruth = true
	f.AddedManually = false
	return f, nil
}

// markUsed records usage on every candidate that participated in the
// decision, when the retriever tracks usage. Best-effort.
func (e *Engine) markUsed(ctx context.Context, scope string, groups ...[]groundtruth.Candidate) {
	marker, ok := e.retriever.(UsageMarker)
	if !ok {
		return
	}
	for _, group := range groups {
		for _, c := range group {
			if c.ExampleID == "" {
				continue
			}
			if err := marker.MarkUsed(ctx, scope, c.ExampleID); err != nil {
				e.logger.Warn("marking example usage failed",
					zap.String("example_id", c.ExampleID),
					zap.Error(err))
			}
		}
	}
}

// rejectCoverage is the fraction of the span's rune length explained by
// reject phrases.
func rejectCoverage(span string, rejected []groundtruth.Candidate) float64 {
	spanLen := utf8.RuneCountInString(span)
	if spanLen == 0 {
		return 0
	}
	total := 0
	for _, c := range rejected {
		total += utf8.RuneCountInString(c.Phrase)
	}
	return float64(total) / float64(spanLen)
}

// MergeFindings merges auto-findings with extraction output, dropping
// extracted findings that duplicate an auto-finding. The merge key is the
// normalized snippet plus source, so duplicate synthesis across concurrent
// evaluations stays idempotent.
func MergeFindings(auto, extracted []*finding.Finding) []*finding.Finding {
	merged := make([]*finding.Finding, 0, len(auto)+len(extracted))
	seen := make(map[string]bool)

	for _, f := range auto {
		key := normalizeKey(f.Snippet, f.Source)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, f)
	}
	for _, f := range extracted {
		key := normalizeKey(f.Snippet, f.Source)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, f)
	}
	return merged
}

// normalizeKey builds the dedupe key: lowercased, whitespace collapsed.
func normalizeKey(snippet, source string) string {
	return strings.Join(strings.Fields(strings.ToLower(snippet)), " ") +
		"|" + strings.Join(strings.Fields(strings.ToLower(source)), " ")
}
