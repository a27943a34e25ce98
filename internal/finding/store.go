package finding

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.config/mesora/mesora.db"

// StoreConfig holds configuration for opening a Store.
type StoreConfig struct {
	// DBPath is the sqlite file path. Pass ":memory:" for tests.
	DBPath string `koanf:"db_path"`
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Scope  string
	Status Status
	Limit  int
}

// Store persists findings in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the finding database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	} else {
		cfg.DBPath = expandPath(cfg.DBPath)
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so sibling stores can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS findings (
			id              TEXT PRIMARY KEY,
			scope           TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL,
			source          TEXT NOT NULL,
			target          TEXT NOT NULL DEFAULT '',
			snippet         TEXT NOT NULL,
			confidence      REAL NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			justification   TEXT NOT NULL DEFAULT '',
			error_type      TEXT NOT NULL DEFAULT '',
			explanation     TEXT NOT NULL DEFAULT '',
			is_ground_truth INTEGER NOT NULL DEFAULT 0,
			added_manually  INTEGER NOT NULL DEFAULT 0,
			alternatives    TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_findings_scope_status
			ON findings(scope, status, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating findings schema: %w", err)
	}
	return nil
}

// Put inserts or replaces a finding.
func (s *Store) Put(ctx context.Context, f *Finding) error {
	if f == nil {
		return ErrInvalidFinding
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("validating finding: %w", err)
	}

	alternatives, err := marshalAlternatives(f.Alternatives)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO findings
			(id, scope, type, source, target, snippet, confidence, status,
			 justification, error_type, explanation, is_ground_truth,
			 added_manually, alternatives, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Scope, string(f.Type), f.Source, f.Target, f.Snippet,
		f.Confidence, string(f.Status), f.Justification, string(f.ErrorType),
		f.Explanation, boolToInt(f.IsGroundTruth), boolToInt(f.AddedManually),
		alternatives,
		f.CreatedAt.UTC().Format(time.RFC3339Nano),
		f.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storing finding %s: %w", f.ID, err)
	}
	return nil
}

// Get retrieves a finding by id.
func (s *Store) Get(ctx context.Context, id string) (*Finding, error) {
	if id == "" {
		return nil, errors.New("finding ID cannot be empty")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, scope, type, source, target, snippet, confidence, status,
		       justification, error_type, explanation, is_ground_truth,
		       added_manually, alternatives, created_at, updated_at
		FROM findings WHERE id = ?`, id)

	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting finding %s: %w", id, err)
	}
	return f, nil
}

// Delete removes a finding entirely. Permitted from any status.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("finding ID cannot be empty")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM findings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting finding %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrFindingNotFound
	}
	return nil
}

// List returns findings matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Finding, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, filter.Scope)
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("invalid status filter %q", filter.Status)
		}
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `
		SELECT id, scope, type, source, target, snippet, confidence, status,
		       justification, error_type, explanation, is_ground_truth,
		       added_manually, alternatives, created_at, updated_at
		FROM findings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing findings: %w", err)
	}
	defer rows.Close()

	var findings []*Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating findings: %w", err)
	}
	return findings, nil
}

// CompareAndSwapStatus atomically moves a finding from expected to next
// status. Returns ErrStatusConflict when the finding exists but its status
// is not the expected one, ErrFindingNotFound when it does not exist.
func (s *Store) CompareAndSwapStatus(ctx context.Context, id string, expected, next Status) error {
	if !expected.Valid() || !next.Valid() {
		return errors.New("invalid status")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE findings SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(next), time.Now().UTC().Format(time.RFC3339Nano),
		id, string(expected))
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFinding(row scanner) (*Finding, error) {
	var (
		f             Finding
		typ, status   string
		errorType     string
		groundTruth   int
		addedManually int
		alternatives  string
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(&f.ID, &f.Scope, &typ, &f.Source, &f.Target, &f.Snippet,
		&f.Confidence, &status, &f.Justification, &errorType, &f.Explanation,
		&groundTruth, &addedManually, &alternatives, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	f.Type = Type(typ)
	f.Status = Status(status)
	f.ErrorType = ErrorType(errorType)
	f.IsGroundTruth = groundTruth != 0
	f.AddedManually = addedManually != 0

	if f.Alternatives, err = unmarshalAlternatives(alternatives); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if f.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &f, nil
}

func marshalAlternatives(alternatives []Alternative) (string, error) {
	if len(alternatives) == 0 {
		return "", nil
	}
	b, err := json.Marshal(alternatives)
	if err != nil {
		return "", fmt.Errorf("marshaling alternatives: %w", err)
	}
	return string(b), nil
}

func unmarshalAlternatives(s string) ([]Alternative, error) {
	if s == "" {
		return nil, nil
	}
	var alternatives []Alternative
	if err := json.Unmarshal([]byte(s), &alternatives); err != nil {
		return nil, fmt.Errorf("unmarshaling alternatives: %w", err)
	}
	return alternatives, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
