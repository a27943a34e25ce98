// Package groundtruth stores human-verified (phrase, source) examples and
// retrieves them by semantic similarity for prefilter decisions.
package groundtruth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for ground-truth operations.
var (
	ErrExampleNotFound        = errors.New("ground-truth example not found")
	ErrInvalidExample         = errors.New("invalid ground-truth example")
	ErrEmptyScope             = errors.New("scope cannot be empty")
	ErrEmptyPhrase            = errors.New("phrase cannot be empty")
	ErrEmptySource            = errors.New("correct source cannot be empty")
	ErrInvalidAction          = errors.New("action must be APPROVE, REJECT, or CORRECT")
	ErrInvalidConfidenceLevel = errors.New("confidence level must be high, medium, or low")
)

// Action is the recorded human verdict on an example.
type Action string

const (
	// ActionApprove marks the phrase as a confirmed reference to CorrectSource.
	ActionApprove Action = "APPROVE"

	// ActionReject marks the phrase as a confirmed non-reference.
	ActionReject Action = "REJECT"

	// ActionCorrect marks the phrase as a reference whose original source
	// attribution was wrong; CorrectSource holds the corrected one.
	ActionCorrect Action = "CORRECT"
)

// Valid reports whether a is a recognized action.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionCorrect:
		return true
	}
	return false
}

// ConfidenceLevel is the reviewer's stated certainty in the verdict.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Valid reports whether l is a recognized confidence level.
func (l ConfidenceLevel) Valid() bool {
	switch l {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Example is a human-verified phrase-to-source mapping.
//
// Examples are immutable once created except for UsageCount and LastUsed,
// which MarkUsed updates when the example participates in a retrieval.
type Example struct {
	// ID is the unique example identifier (UUID).
	ID string `json:"id"`

	// Scope identifies which corpus this example belongs to.
	Scope string `json:"scope"`

	// Phrase is the verified text fragment.
	Phrase string `json:"phrase"`

	// Snippet is the surrounding context the phrase was found in.
	Snippet string `json:"snippet"`

	// Action is the recorded human verdict.
	Action Action `json:"action"`

	// CorrectSource is the verified source citation (e.g. "Berakhot 2a").
	CorrectSource string `json:"correct_source"`

	// OriginalSource is the source claimed before correction, when Action
	// is CORRECT.
	OriginalSource string `json:"original_source,omitempty"`

	// ConfidenceLevel is the reviewer's certainty. Defaults to high for
	// explicit verdicts.
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`

	// Category is an optional free-form grouping label.
	Category string `json:"category,omitempty"`

	// Justification is the reviewer's free-text reasoning.
	Justification string `json:"justification,omitempty"`

	// ConnectionType, AuthorName, and Year describe harvested reception
	// connections as structured fields.
	ConnectionType string `json:"connection_type,omitempty"`
	AuthorName     string `json:"author_name,omitempty"`
	Year           int    `json:"year,omitempty"`

	// UsageCount tracks how many times this example has been retrieved.
	UsageCount int `json:"usage_count"`

	// LastUsed is when the example last participated in a retrieval.
	LastUsed *time.Time `json:"last_used,omitempty"`

	// CreatedAt is when the example was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewExample creates a new example with a generated UUID and default values.
func NewExample(scope, phrase, snippet string, action Action, correctSource string) (*Example, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}
	if phrase == "" {
		return nil, ErrEmptyPhrase
	}
	if correctSource == "" {
		return nil, ErrEmptySource
	}
	if !action.Valid() {
		return nil, ErrInvalidAction
	}

	return &Example{
		ID:              uuid.New().String(),
		Scope:           scope,
		Phrase:          phrase,
		Snippet:         snippet,
		Action:          action,
		CorrectSource:   correctSource,
		ConfidenceLevel: ConfidenceHigh,
		CreatedAt:       time.Now(),
	}, nil
}

// Validate checks if the example has valid fields.
func (e *Example) Validate() error {
	if e.ID == "" {
		return errors.New("example ID cannot be empty")
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return errors.New("invalid example ID format")
	}
	if e.Scope == "" {
		return ErrEmptyScope
	}
	if e.Phrase == "" {
		return ErrEmptyPhrase
	}
	if e.CorrectSource == "" {
		return ErrEmptySource
	}
	if !e.Action.Valid() {
		return ErrInvalidAction
	}
	if e.ConfidenceLevel != "" && !e.ConfidenceLevel.Valid() {
		return ErrInvalidConfidenceLevel
	}
	return nil
}

// Candidate is a transient retrieval hit: a stored example annotated with
// its similarity to the query span. Produced fresh per retrieval and never
// persisted.
type Candidate struct {
	// ExampleID references the originating stored example.
	ExampleID string `json:"example_id"`

	// Phrase is the example's verified text fragment.
	Phrase string `json:"phrase"`

	// Snippet is the example's surrounding context.
	Snippet string `json:"snippet"`

	// CorrectSource is the example's verified source citation.
	CorrectSource string `json:"correct_source"`

	// Action is the example's recorded human verdict.
	Action Action `json:"action"`

	// Score is the similarity to the query span, in [0,1].
	Score float64 `json:"score"`
}
