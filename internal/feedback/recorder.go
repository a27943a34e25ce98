package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/finding"
	"github.com/sifralabs/mesora/internal/groundtruth"
)

var tracer = otel.Tracer("mesora.feedback")

// PartialWriteError reports a verdict recording where one or both of the
// independent store writes failed. The other write was still attempted;
// the receipt returned alongside reflects whatever succeeded.
type PartialWriteError struct {
	// GroundTruth is the ground-truth store failure, if any.
	GroundTruth error

	// Training is the training store failure, if any.
	Training error
}

func (e *PartialWriteError) Error() string {
	var parts []string
	if e.GroundTruth != nil {
		parts = append(parts, fmt.Sprintf("ground truth: %v", e.GroundTruth))
	}
	if e.Training != nil {
		parts = append(parts, fmt.Sprintf("training: %v", e.Training))
	}
	return "partial verdict write failure: " + strings.Join(parts, "; ")
}

// Recorder persists human verdicts into the ground-truth and training
// corpora. Ground truth is a set: an existing example with identical
// (scope, phrase, correctSource) is returned as a duplicate rather than
// written again. Training examples are a log and always appended.
type Recorder struct {
	groundTruth *groundtruth.Store
	training    *TrainingStore
	indexer     *Indexer
	logger      *zap.Logger
}

// NewRecorder creates a verdict recorder. The indexer is optional: when
// nil, ground-truth examples are written synchronously instead of queued.
func NewRecorder(gt *groundtruth.Store, training *TrainingStore, indexer *Indexer, logger *zap.Logger) (*Recorder, error) {
	if gt == nil {
		return nil, errors.New("ground-truth store cannot be nil")
	}
	if training == nil {
		return nil, errors.New("training store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		groundTruth: gt,
		training:    training,
		indexer:     indexer,
		logger:      logger,
	}, nil
}

// RecordVerdict persists a human verdict on a finding.
//
// Both stores are written in independent failure domains: a failure in one
// never prevents the attempt on the other. On any failure the returned
// error is a *PartialWriteError naming the failed store(s), and the
// receipt still carries the ids that were written.
func (r *Recorder) RecordVerdict(ctx context.Context, f *finding.Finding, positive bool, meta finding.VerdictMeta) (finding.VerdictReceipt, error) {
	ctx, span := tracer.Start(ctx, "feedback.Recorder.RecordVerdict")
	defer span.End()

	var receipt finding.VerdictReceipt
	if f == nil {
		return receipt, errors.New("finding cannot be nil")
	}
	span.SetAttributes(
		attribute.String("finding_id", f.ID),
		attribute.Bool("positive", positive),
	)

	gtErr := r.recordGroundTruth(ctx, f, positive, meta, &receipt)
	trErr := r.recordTraining(ctx, f, positive, meta, &receipt)

	if gtErr != nil || trErr != nil {
		r.logger.Error("verdict partially recorded",
			zap.String("finding_id", f.ID),
			zap.Bool("positive", positive),
			zap.NamedError("ground_truth_error", gtErr),
			zap.NamedError("training_error", trErr))
		return receipt, &PartialWriteError{GroundTruth: gtErr, Training: trErr}
	}

	VerdictsTotal.WithLabelValues(polarityLabel(positive)).Inc()
	span.SetAttributes(attribute.Bool("deduped", receipt.Deduped))
	return receipt, nil
}

func (r *Recorder) recordGroundTruth(ctx context.Context, f *finding.Finding, positive bool, meta finding.VerdictMeta, receipt *finding.VerdictReceipt) error {
	action := groundtruth.ActionReject
	if positive {
		action = groundtruth.ActionApprove
		if meta.CorrectedSource != "" && meta.CorrectedSource != f.Source {
			action = groundtruth.ActionCorrect
		}
	}

	correctSource := f.Source
	if action == groundtruth.ActionCorrect {
		correctSource = meta.CorrectedSource
	}

	existing, err := r.groundTruth.FindExisting(ctx, f.Scope, f.Snippet, correctSource)
	if err == nil {
		receipt.GroundTruthID = existing.ID
		receipt.Deduped = true
		r.logger.Debug("ground-truth verdict deduplicated",
			zap.String("finding_id", f.ID),
			zap.String("existing_id", existing.ID))
		return nil
	}
	if !errors.Is(err, groundtruth.ErrExampleNotFound) {
		return fmt.Errorf("checking for duplicate: %w", err)
	}

	example, err := groundtruth.NewExample(f.Scope, f.Snippet, f.Snippet, action, correctSource)
	if err != nil {
		return fmt.Errorf("building example: %w", err)
	}
	if action == groundtruth.ActionCorrect {
		example.OriginalSource = f.Source
	}
	example.Justification = f.Justification
	if meta.Explanation != "" {
		example.Justification = meta.Explanation
	}

	if r.indexer != nil {
		if err := r.indexer.Enqueue(example); err != nil {
			return fmt.Errorf("queueing example: %w", err)
		}
	} else {
		if _, err := r.groundTruth.Add(ctx, example); err != nil {
			return fmt.Errorf("storing example: %w", err)
		}
	}

	receipt.GroundTruthID = example.ID
	return nil
}

func (r *Recorder) recordTraining(ctx context.Context, f *finding.Finding, positive bool, meta finding.VerdictMeta, receipt *finding.VerdictReceipt) error {
	example := &TrainingExample{
		Scope:        f.Scope,
		Text:         f.Snippet,
		Source:       f.Source,
		IsPositive:   positive,
		Explanation:  meta.Explanation,
		ErrorType:    string(meta.ErrorType),
		IsCorrection: meta.CorrectedSource != "" && meta.CorrectedSource != f.Source,
		IsStructured: meta.ErrorType != "" || meta.CorrectedSource != "",
	}

	id, err := r.training.Add(ctx, example)
	if err != nil {
		return err
	}
	receipt.TrainingID = id
	return nil
}

func polarityLabel(positive bool) string {
	if positive {
		return "positive"
	}
	return "negative"
}

// Ensure Recorder satisfies the lifecycle's recorder contract.
var _ finding.VerdictRecorder = (*Recorder)(nil)
