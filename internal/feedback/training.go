// Package feedback persists human verdicts: ground-truth examples with
// deduplication, append-only training examples, and an async indexing
// queue feeding the vector corpus.
package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Training-store errors.
var (
	ErrInvalidTrainingExample = errors.New("invalid training example")
	ErrEmptyText              = errors.New("training text cannot be empty")
)

// TrainingExample is an append-only record of a human verdict, kept for
// training corpora and statistics. Never deduplicated: repeated verdicts
// are historical signal, intentionally allowed to repeat.
type TrainingExample struct {
	// ID is the unique training example identifier (UUID).
	ID string `json:"id"`

	// Scope identifies which corpus the verdict belongs to.
	Scope string `json:"scope"`

	// Text is the reviewed snippet.
	Text string `json:"text"`

	// Source is the citation the verdict was about.
	Source string `json:"source"`

	// IsPositive is true for approvals, false for dismissals.
	IsPositive bool `json:"is_positive"`

	// Explanation is the reviewer's free-text reasoning, if any.
	Explanation string `json:"explanation,omitempty"`

	// ErrorType categorizes a dismissal, if given.
	ErrorType string `json:"error_type,omitempty"`

	// IsCorrection is true when the verdict replaced a wrong source with
	// a corrected one.
	IsCorrection bool `json:"is_correction"`

	// IsStructured is true when the verdict carried categorized metadata
	// rather than free text alone.
	IsStructured bool `json:"is_structured"`

	// CreatedAt is when the verdict was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the training example has valid fields.
func (e *TrainingExample) Validate() error {
	if e.ID == "" {
		return errors.New("training example ID cannot be empty")
	}
	if e.Text == "" {
		return ErrEmptyText
	}
	if e.Source == "" {
		return errors.New("training source cannot be empty")
	}
	return nil
}

// TrainingStore persists training examples in sqlite. It shares the
// finding store's database handle so findings and their verdict history
// live in one file.
type TrainingStore struct {
	db *sql.DB
}

// NewTrainingStore creates a training store over an open database.
func NewTrainingStore(db *sql.DB) (*TrainingStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	s := &TrainingStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *TrainingStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS training_examples (
			id            TEXT PRIMARY KEY,
			scope         TEXT NOT NULL DEFAULT '',
			text          TEXT NOT NULL,
			source        TEXT NOT NULL,
			is_positive   INTEGER NOT NULL,
			explanation   TEXT NOT NULL DEFAULT '',
			error_type    TEXT NOT NULL DEFAULT '',
			is_correction INTEGER NOT NULL DEFAULT 0,
			is_structured INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_training_scope_created
			ON training_examples(scope, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating training schema: %w", err)
	}
	return nil
}

// Add appends a training example and returns its id. IDs and timestamps
// are filled in when unset.
func (s *TrainingStore) Add(ctx context.Context, example *TrainingExample) (string, error) {
	if example == nil {
		return "", ErrInvalidTrainingExample
	}
	if example.ID == "" {
		example.ID = uuid.New().String()
	}
	if example.CreatedAt.IsZero() {
		example.CreatedAt = time.Now()
	}
	if err := example.Validate(); err != nil {
		return "", fmt.Errorf("validating training example: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_examples
			(id, scope, text, source, is_positive, explanation, error_type,
			 is_correction, is_structured, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		example.ID, example.Scope, example.Text, example.Source,
		boolToInt(example.IsPositive), example.Explanation, example.ErrorType,
		boolToInt(example.IsCorrection), boolToInt(example.IsStructured),
		example.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("storing training example: %w", err)
	}
	return example.ID, nil
}

// List returns training examples for a scope, newest first.
func (s *TrainingStore) List(ctx context.Context, scope string, limit int) ([]*TrainingExample, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, text, source, is_positive, explanation, error_type,
		       is_correction, is_structured, created_at
		FROM training_examples
		WHERE scope = ?
		ORDER BY created_at DESC
		LIMIT ?`, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("listing training examples: %w", err)
	}
	defer rows.Close()

	var examples []*TrainingExample
	for rows.Next() {
		var (
			e          TrainingExample
			positive   int
			correction int
			structured int
			createdAt  string
		)
		err := rows.Scan(&e.ID, &e.Scope, &e.Text, &e.Source, &positive,
			&e.Explanation, &e.ErrorType, &correction, &structured, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning training example: %w", err)
		}
		e.IsPositive = positive != 0
		e.IsCorrection = correction != 0
		e.IsStructured = structured != 0
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		examples = append(examples, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating training examples: %w", err)
	}
	return examples, nil
}

// Count returns how many examples a scope has, split by polarity.
func (s *TrainingStore) Count(ctx context.Context, scope string) (positive, negative int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(is_positive), 0),
			COALESCE(SUM(1 - is_positive), 0)
		FROM training_examples WHERE scope = ?`, scope)
	if err := row.Scan(&positive, &negative); err != nil {
		return 0, 0, fmt.Errorf("counting training examples: %w", err)
	}
	return positive, negative, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
