package groundtruth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sifralabs/mesora/internal/vectorstore"
)

// collectionPrefix namespaces ground-truth collections in the vector store.
const collectionPrefix = "gt_"

// maxCollectionName matches the vector store's collection name limit.
const maxCollectionName = 64

var tracer = otel.Tracer("mesora.groundtruth")

// CollectionName derives the vector-store collection name for a scope.
// Scopes are sanitized to the store's [a-z0-9_] alphabet.
func CollectionName(scope string) (string, error) {
	if scope == "" {
		return "", ErrEmptyScope
	}

	var b strings.Builder
	for _, r := range strings.ToLower(scope) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	name := collectionPrefix + b.String()
	if len(name) > maxCollectionName {
		name = name[:maxCollectionName]
	}
	return name, nil
}

// Store persists examples in a vector store, one collection per scope,
// and retrieves them by semantic similarity.
type Store struct {
	store      vectorstore.Store
	vectorSize int
	logger     *zap.Logger
}

// NewStore creates a ground-truth store over the given vector store.
func NewStore(store vectorstore.Store, vectorSize int, logger *zap.Logger) (*Store, error) {
	if store == nil {
		return nil, errors.New("vector store cannot be nil")
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", vectorSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		store:      store,
		vectorSize: vectorSize,
		logger:     logger,
	}, nil
}

// Add persists a new example and returns its id.
//
// The example's structure is immutable after this call; only UsageCount
// and LastUsed may change, via MarkUsed.
func (s *Store) Add(ctx context.Context, example *Example) (string, error) {
	ctx, span := tracer.Start(ctx, "groundtruth.Store.Add")
	defer span.End()

	if example == nil {
		return "", ErrInvalidExample
	}
	if example.CreatedAt.IsZero() {
		example.CreatedAt = time.Now()
	}
	if err := example.Validate(); err != nil {
		return "", fmt.Errorf("validating example: %w", err)
	}

	collectionName, err := CollectionName(example.Scope)
	if err != nil {
		return "", err
	}
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.String("action", string(example.Action)),
	)

	exists, err := s.store.CollectionExists(ctx, collectionName)
	if err != nil {
		return "", fmt.Errorf("checking collection existence: %w", err)
	}
	if !exists {
		if err := s.store.CreateCollection(ctx, collectionName, s.vectorSize); err != nil &&
			!errors.Is(err, vectorstore.ErrCollectionExists) {
			return "", fmt.Errorf("creating collection: %w", err)
		}
		s.logger.Info("created ground-truth collection",
			zap.String("collection", collectionName),
			zap.String("scope", example.Scope))
	}

	doc := exampleToDocument(example, collectionName)
	if _, err := s.store.AddDocuments(ctx, []vectorstore.Document{doc}); err != nil {
		return "", fmt.Errorf("storing example: %w", err)
	}

	s.logger.Info("ground-truth example added",
		zap.String("id", example.ID),
		zap.String("scope", example.Scope),
		zap.String("action", string(example.Action)),
		zap.String("correct_source", example.CorrectSource))

	return example.ID, nil
}

// FindExisting looks up an example with identical (scope, phrase,
// correctSource). Returns ErrExampleNotFound when no such example exists,
// including when the scope has no collection yet.
func (s *Store) FindExisting(ctx context.Context, scope, phrase, correctSource string) (*Example, error) {
	ctx, span := tracer.Start(ctx, "groundtruth.Store.FindExisting")
	defer span.End()

	if phrase == "" {
		return nil, ErrEmptyPhrase
	}
	if correctSource == "" {
		return nil, ErrEmptySource
	}

	collectionName, err := CollectionName(scope)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("checking collection existence: %w", err)
	}
	if !exists {
		return nil, ErrExampleNotFound
	}

	filters := map[string]interface{}{
		"phrase":         phrase,
		"correct_source": correctSource,
	}
	results, err := s.store.SearchInCollection(ctx, collectionName, phrase, 1, filters)
	if err != nil {
		return nil, fmt.Errorf("searching for existing example: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrExampleNotFound
	}

	example, err := resultToExample(scope, results[0])
	if err != nil {
		return nil, fmt.Errorf("converting result: %w", err)
	}
	return example, nil
}

// Get retrieves an example by id within a scope.
func (s *Store) Get(ctx context.Context, scope, id string) (*Example, error) {
	if id == "" {
		return nil, errors.New("example ID cannot be empty")
	}

	collectionName, err := CollectionName(scope)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("checking collection existence: %w", err)
	}
	if !exists {
		return nil, ErrExampleNotFound
	}

	// The vector query text is irrelevant here; the id filter selects the
	// single matching document.
	results, err := s.store.SearchInCollection(ctx, collectionName, id, 1, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("searching by id: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrExampleNotFound
	}

	return resultToExample(scope, results[0])
}

// Retrieve fetches the top-k examples most similar to span, ordered by
// descending score. A scope with no examples yields an empty slice, not an
// error; that is a valid, expected state.
func (s *Store) Retrieve(ctx context.Context, span string, scope string, k int) ([]Candidate, error) {
	ctx, tspan := tracer.Start(ctx, "groundtruth.Store.Retrieve")
	defer tspan.End()

	if span == "" {
		return nil, errors.New("span cannot be empty")
	}
	if k <= 0 {
		k = 5
	}

	collectionName, err := CollectionName(scope)
	if err != nil {
		return nil, err
	}
	tspan.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("k", k),
	)

	exists, err := s.store.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("checking collection existence: %w", err)
	}
	if !exists {
		s.logger.Debug("no ground truth for scope",
			zap.String("scope", scope),
			zap.String("collection", collectionName))
		return []Candidate{}, nil
	}

	results, err := s.store.SearchInCollection(ctx, collectionName, span, k, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieving candidates: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		c, err := resultToCandidate(r)
		if err != nil {
			s.logger.Warn("skipping malformed ground-truth document",
				zap.String("id", r.ID),
				zap.Error(err))
			continue
		}
		candidates = append(candidates, c)
	}

	tspan.SetAttributes(attribute.Int("results_count", len(candidates)))

	s.logger.Debug("retrieved ground-truth candidates",
		zap.String("scope", scope),
		zap.Int("k", k),
		zap.Int("results", len(candidates)))

	return candidates, nil
}

// MarkUsed increments an example's usage count and stamps LastUsed.
// This is the only permitted mutation of a stored example.
func (s *Store) MarkUsed(ctx context.Context, scope, id string) error {
	ctx, span := tracer.Start(ctx, "groundtruth.Store.MarkUsed")
	defer span.End()

	example, err := s.Get(ctx, scope, id)
	if err != nil {
		return fmt.Errorf("getting example: %w", err)
	}

	example.UsageCount++
	now := time.Now()
	example.LastUsed = &now

	collectionName, err := CollectionName(scope)
	if err != nil {
		return err
	}

	// chromem has no in-place update; replace the document.
	if err := s.store.DeleteDocuments(ctx, collectionName, []string{id}); err != nil {
		return fmt.Errorf("deleting old version: %w", err)
	}
	doc := exampleToDocument(example, collectionName)
	if _, err := s.store.AddDocuments(ctx, []vectorstore.Document{doc}); err != nil {
		return fmt.Errorf("re-adding example: %w", err)
	}

	s.logger.Debug("example usage recorded",
		zap.String("id", id),
		zap.Int("usage_count", example.UsageCount))

	return nil
}

// exampleToDocument converts an Example to a vectorstore Document.
// The phrase is the embedded content; the snippet travels in metadata so
// retrieval scores reflect phrase similarity alone.
func exampleToDocument(example *Example, collectionName string) vectorstore.Document {
	metadata := map[string]interface{}{
		"id":               example.ID,
		"scope":            example.Scope,
		"phrase":           example.Phrase,
		"snippet":          example.Snippet,
		"action":           string(example.Action),
		"correct_source":   example.CorrectSource,
		"confidence_level": string(example.ConfidenceLevel),
		"usage_count":      strconv.Itoa(example.UsageCount),
		"created_at":       example.CreatedAt.Format(time.RFC3339),
	}
	if example.OriginalSource != "" {
		metadata["original_source"] = example.OriginalSource
	}
	if example.Category != "" {
		metadata["category"] = example.Category
	}
	if example.Justification != "" {
		metadata["justification"] = example.Justification
	}
	if example.ConnectionType != "" {
		metadata["connection_type"] = example.ConnectionType
	}
	if example.AuthorName != "" {
		metadata["author_name"] = example.AuthorName
	}
	if example.Year != 0 {
		metadata["year"] = strconv.Itoa(example.Year)
	}
	if example.LastUsed != nil {
		metadata["last_used"] = example.LastUsed.Format(time.RFC3339)
	}

	return vectorstore.Document{
		ID:         example.ID,
		Content:    example.Phrase,
		Metadata:   metadata,
		Collection: collectionName,
	}
}

// resultToExample reconstructs an Example from a search result.
func resultToExample(scope string, r vectorstore.SearchResult) (*Example, error) {
	example := &Example{
		ID:              metaString(r.Metadata, "id"),
		Scope:           scope,
		Phrase:          metaString(r.Metadata, "phrase"),
		Snippet:         metaString(r.Metadata, "snippet"),
		Action:          Action(metaString(r.Metadata, "action")),
		CorrectSource:   metaString(r.Metadata, "correct_source"),
		OriginalSource:  metaString(r.Metadata, "original_source"),
		ConfidenceLevel: ConfidenceLevel(metaString(r.Metadata, "confidence_level")),
		Category:        metaString(r.Metadata, "category"),
		Justification:   metaString(r.Metadata, "justification"),
		ConnectionType:  metaString(r.Metadata, "connection_type"),
		AuthorName:      metaString(r.Metadata, "author_name"),
	}
	if example.ID == "" {
		example.ID = r.ID
	}
	if example.Phrase == "" {
		example.Phrase = r.Content
	}

	year, err := metaInt(r.Metadata, "year")
	if err != nil {
		return nil, err
	}
	example.Year = year

	count, err := metaInt(r.Metadata, "usage_count")
	if err != nil {
		return nil, err
	}
	example.UsageCount = count
	if v := metaString(r.Metadata, "created_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", v, err)
		}
		example.CreatedAt = t
	}
	if v := metaString(r.Metadata, "last_used"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used %q: %w", v, err)
		}
		example.LastUsed = &t
	}

	if err := example.Validate(); err != nil {
		return nil, err
	}
	return example, nil
}

// resultToCandidate converts a search result into a transient Candidate.
func resultToCandidate(r vectorstore.SearchResult) (Candidate, error) {
	action := Action(metaString(r.Metadata, "action"))
	if !action.Valid() {
		return Candidate{}, fmt.Errorf("%w: document %s", ErrInvalidAction, r.ID)
	}

	phrase := metaString(r.Metadata, "phrase")
	if phrase == "" {
		phrase = r.Content
	}

	id := metaString(r.Metadata, "id")
	if id == "" {
		id = r.ID
	}

	return Candidate{
		ExampleID:     id,
		Phrase:        phrase,
		Snippet:       metaString(r.Metadata, "snippet"),
		CorrectSource: metaString(r.Metadata, "correct_source"),
		Action:        action,
		Score:         float64(r.Score),
	}, nil
}

func metaString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

// metaInt reads an integer metadata value. Values are written as strings,
// but the qdrant payload codec returns native integers, so both forms are
// accepted.
func metaInt(metadata map[string]interface{}, key string) (int, error) {
	if metadata == nil {
		return 0, nil
	}
	switch v := metadata[key].(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parsing %s %q: %w", key, v, err)
		}
		return n, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("unexpected %s type %T", key, v)
	}
}
