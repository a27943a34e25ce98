// Package finding holds the review lifecycle for discovered findings:
// the Finding model, its sqlite-backed store, and the Pending/Added/
// Dismissed state machine with undo and candidate swap.
package finding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for finding operations.
var (
	ErrFindingNotFound   = errors.New("finding not found")
	ErrInvalidFinding    = errors.New("invalid finding")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusConflict    = errors.New("finding status changed concurrently")
	ErrNoAlternative     = errors.New("no alternative candidate at index")
	ErrEmptySnippet      = errors.New("snippet cannot be empty")
	ErrEmptySource       = errors.New("source cannot be empty")
)

// Type classifies how a finding relates its snippet to its source.
type Type string

const (
	TypeConnection  Type = "connection"
	TypeRootMatch   Type = "root_match"
	TypeThematicFit Type = "thematic_fit"
	TypeNewForm     Type = "new_form"
	TypeReference   Type = "reference"
)

// Valid reports whether t is a recognized finding type.
func (t Type) Valid() bool {
	switch t {
	case TypeConnection, TypeRootMatch, TypeThematicFit, TypeNewForm, TypeReference:
		return true
	}
	return false
}

// Status is the review state of a finding.
type Status string

const (
	// StatusPending awaits human review. Every finding starts here.
	StatusPending Status = "pending"

	// StatusAdded is approved and terminal. Further correction is a fresh
	// CORRECT ground-truth write, not a status reversal.
	StatusAdded Status = "added"

	// StatusDismissed is rejected; undo back to pending is always allowed.
	StatusDismissed Status = "dismissed"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAdded, StatusDismissed:
		return true
	}
	return false
}

// ErrorType categorizes why a reviewer dismissed a finding.
type ErrorType string

const (
	ErrorHallucination ErrorType = "hallucination"
	ErrorStructural    ErrorType = "structural"
	ErrorWrongPage     ErrorType = "wrong_page"
	ErrorWrongSource   ErrorType = "wrong_source"
	ErrorNotRelevant   ErrorType = "not_relevant"
	ErrorOther         ErrorType = "other"
)

// Valid reports whether e is a recognized error type.
func (e ErrorType) Valid() bool {
	switch e {
	case ErrorHallucination, ErrorStructural, ErrorWrongPage,
		ErrorWrongSource, ErrorNotRelevant, ErrorOther:
		return true
	}
	return false
}

// Alternative is a ranked candidate source a finding may be swapped to.
type Alternative struct {
	// Source is the candidate citation.
	Source string `json:"source"`

	// Text is the supporting text for this candidate.
	Text string `json:"text,omitempty"`

	// Reasoning explains why this candidate was proposed.
	Reasoning string `json:"reasoning,omitempty"`

	// Score ranks the candidate, in [0,1].
	Score float64 `json:"score,omitempty"`
}

// Finding is a candidate reference surfaced for human review, independent
// of how it was produced: extraction output, prefilter auto-synthesis, or
// manual entry.
type Finding struct {
	// ID is the unique finding identifier (UUID).
	ID string `json:"id"`

	// Scope identifies which corpus the finding belongs to.
	Scope string `json:"scope"`

	// Type classifies the snippet-to-source relation.
	Type Type `json:"type"`

	// Source is the primary citation (e.g. "Berakhot 2a").
	Source string `json:"source"`

	// Target is an optional secondary reference for connection findings.
	Target string `json:"target,omitempty"`

	// Snippet is the text span the finding was discovered in.
	Snippet string `json:"snippet"`

	// Confidence is a score in [0,100].
	Confidence float64 `json:"confidence"`

	// Status is the review state.
	Status Status `json:"status"`

	// Justification explains why the finding was proposed.
	Justification string `json:"justification,omitempty"`

	// ErrorType and Explanation are set when a reviewer dismisses the
	// finding with a categorized reason.
	ErrorType   ErrorType `json:"error_type,omitempty"`
	Explanation string    `json:"explanation,omitempty"`

	// IsGroundTruth marks findings whose approval must write through to
	// the ground-truth corpus.
	IsGroundTruth bool `json:"is_ground_truth"`

	// AddedManually marks user-entered findings.
	AddedManually bool `json:"added_manually"`

	// Alternatives are ranked swap candidates, best first.
	Alternatives []Alternative `json:"alternatives,omitempty"`

	// CreatedAt is when the finding was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the finding was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a pending finding with a generated UUID.
func New(scope string, typ Type, source, snippet string) (*Finding, error) {
	if source == "" {
		return nil, ErrEmptySource
	}
	if snippet == "" {
		return nil, ErrEmptySnippet
	}
	if !typ.Valid() {
		return nil, errors.New("invalid finding type")
	}

	now := time.Now()
	return &Finding{
		ID:        uuid.New().String(),
		Scope:     scope,
		Type:      typ,
		Source:    source,
		Snippet:   snippet,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks if the finding has valid fields.
func (f *Finding) Validate() error {
	if f.ID == "" {
		return errors.New("finding ID cannot be empty")
	}
	if f.Source == "" {
		return ErrEmptySource
	}
	if f.Snippet == "" {
		return ErrEmptySnippet
	}
	if !f.Type.Valid() {
		return errors.New("invalid finding type")
	}
	if !f.Status.Valid() {
		return errors.New("invalid finding status")
	}
	if f.Confidence < 0 || f.Confidence > 100 {
		return errors.New("confidence must be in [0,100]")
	}
	if f.ErrorType != "" && !f.ErrorType.Valid() {
		return errors.New("invalid error type")
	}
	return nil
}

// VerdictMeta carries optional reviewer context attached to a verdict.
type VerdictMeta struct {
	// ErrorType categorizes a dismissal.
	ErrorType ErrorType `json:"error_type,omitempty"`

	// Explanation is free-text reviewer reasoning.
	Explanation string `json:"explanation,omitempty"`

	// CorrectedSource, when set, records the verdict as a correction:
	// the finding's source was wrong and this one is right.
	CorrectedSource string `json:"corrected_source,omitempty"`
}

// VerdictReceipt reports the outcome of recording a verdict.
type VerdictReceipt struct {
	// GroundTruthID is the ground-truth example the verdict mapped to,
	// empty when the ground-truth write failed or was not applicable.
	GroundTruthID string `json:"ground_truth_id,omitempty"`

	// TrainingID is the training example written for this verdict.
	TrainingID string `json:"training_id,omitempty"`

	// Deduped is true when an identical ground-truth example already
	// existed and no new one was created.
	Deduped bool `json:"deduped"`
}

// VerdictRecorder persists human verdicts into the ground-truth and
// training corpora.
type VerdictRecorder interface {
	RecordVerdict(ctx context.Context, f *Finding, positive bool, meta VerdictMeta) (VerdictReceipt, error)
}
