package finding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var lifecycleTracer = otel.Tracer("mesora.finding.lifecycle")

// expectedStatus maps each target status to the status a finding must be
// in for the transition to be legal. Added is terminal; dismissal is
// undoable.
var expectedStatus = map[Status]Status{
	StatusAdded:     StatusPending,
	StatusDismissed: StatusPending,
	StatusPending:   StatusDismissed,
}

// Lifecycle drives findings through review transitions and feeds verdicts
// to the recorder.
//
// The local status transition is authoritative for session display: verdict
// store failures are logged as secondary errors and never roll the
// transition back. The failed writes stay replayable from the log context.
type Lifecycle struct {
	store    *Store
	recorder VerdictRecorder
	logger   *zap.Logger
}

// NewLifecycle creates a lifecycle service.
func NewLifecycle(store *Store, recorder VerdictRecorder, logger *zap.Logger) (*Lifecycle, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if recorder == nil {
		return nil, errors.New("verdict recorder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		store:    store,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Transition moves a finding to the next status.
//
// Legal transitions: Pending→Added (approval; records a positive verdict
// when the finding is ground-truth flagged), Pending→Dismissed (rejection;
// records a negative verdict, optionally categorized via meta), and
// Dismissed→Pending (undo; restores pre-dismissal content and retracts
// nothing already written). Anything else is ErrInvalidTransition. A
// concurrent transition on the same finding surfaces as ErrStatusConflict.
func (l *Lifecycle) Transition(ctx context.Context, id string, next Status, meta VerdictMeta) (*Finding, error) {
	ctx, span := lifecycleTracer.Start(ctx, "finding.Lifecycle.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("finding_id", id),
		attribute.String("next_status", string(next)),
	)

	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if meta.ErrorType != "" && !meta.ErrorType.Valid() {
		return nil, fmt.Errorf("invalid error type %q", meta.ErrorType)
	}

	f, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}

	expected := expectedStatus[next]
	if f.Status != expected {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, next, f.Status)
	}

	if err := l.store.CompareAndSwapStatus(ctx, id, expected, next); err != nil {
		return nil, err
	}
	f.Status = next
	f.UpdatedAt = time.Now()

	switch next {
	case StatusDismissed:
		f.ErrorType = meta.ErrorType
		f.Explanation = meta.Explanation
		if err := l.store.Put(ctx, f); err != nil {
			return nil, fmt.Errorf("storing dismissal metadata: %w", err)
		}
	case StatusPending:
		// Undo restores the pre-dismissal content unchanged.
		f.ErrorType = ""
		f.Explanation = ""
		if err := l.store.Put(ctx, f); err != nil {
			return nil, fmt.Errorf("clearing dismissal metadata: %w", err)
		}
	}

	l.logger.Info("finding transitioned",
		zap.String("finding_id", id),
		zap.String("from", string(expected)),
		zap.String("to", string(next)))

	// Verdict writes are best-effort relative to the committed transition.
	switch {
	case next == StatusAdded && f.IsGroundTruth:
		l.recordVerdict(ctx, f, true, meta)
	case next == StatusDismissed:
		l.recordVerdict(ctx, f, false, meta)
	}

	return f, nil
}

func (l *Lifecycle) recordVerdict(ctx context.Context, f *Finding, positive bool, meta VerdictMeta) {
	receipt, err := l.recorder.RecordVerdict(ctx, f, positive, meta)
	if err != nil {
		l.logger.Error("verdict recording failed after committed transition",
			zap.String("finding_id", f.ID),
			zap.String("status", string(f.Status)),
			zap.Bool("positive", positive),
			zap.Error(err))
		return
	}
	l.logger.Debug("verdict recorded",
		zap.String("finding_id", f.ID),
		zap.String("ground_truth_id", receipt.GroundTruthID),
		zap.String("training_id", receipt.TrainingID),
		zap.Bool("deduped", receipt.Deduped))
}

// SwapCandidate replaces a finding's primary source and justification with
// the alternative at index, removing it from the list. A content edit,
// independent of status; it never writes ground truth on its own.
func (l *Lifecycle) SwapCandidate(ctx context.Context, id string, index int) (*Finding, error) {
	ctx, span := lifecycleTracer.Start(ctx, "finding.Lifecycle.SwapCandidate")
	defer span.End()
	span.SetAttributes(
		attribute.String("finding_id", id),
		attribute.Int("index", index),
	)

	f, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(f.Alternatives) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoAlternative, index, len(f.Alternatives))
	}

	chosen := f.Alternatives[index]
	previous := f.Source

	// The old justification describes the replaced source; never keep it.
	f.Source = chosen.Source
	f.Justification = chosen.Reasoning
	f.Alternatives = append(f.Alternatives[:index], f.Alternatives[index+1:]...)
	f.UpdatedAt = time.Now()

	if err := l.store.Put(ctx, f); err != nil {
		return nil, fmt.Errorf("storing swapped finding: %w", err)
	}

	l.logger.Info("finding candidate swapped",
		zap.String("finding_id", id),
		zap.String("previous_source", previous),
		zap.String("new_source", f.Source))

	return f, nil
}

// Delete removes a finding entirely. Orthogonal to status: permitted from
// any state, and it retracts no prior training writes.
func (l *Lifecycle) Delete(ctx context.Context, id string) error {
	ctx, span := lifecycleTracer.Start(ctx, "finding.Lifecycle.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("finding_id", id))

	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}

	l.logger.Info("finding deleted", zap.String("finding_id", id))
	return nil
}
