// Package knowledge persists chunk records in PostgreSQL + pgvector and
// serves hybrid (vector + keyword) similarity search constrained by
// filter equality.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Querier defines the database operations the store needs. Defined by
// the consumer so tests can substitute a mock; the production
// implementation is PG in pg.go.
type Querier interface {
	// UpsertChunk inserts or overwrites the record for
	// (source_document_id, sequence_index).
	UpsertChunk(ctx context.Context, arg UpsertChunkParams) error

	// SearchChunks performs hybrid retrieval, optionally filtered.
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error)

	// CountChunks counts records matching filterJSON (nil = all).
	CountChunks(ctx context.Context, filterJSON []byte) (int64, error)
}

// UpsertChunkParams carries one chunk record to the database.
type UpsertChunkParams struct {
	ID               string
	SourceDocumentID string
	SequenceIndex    int32
	Content          string
	Embedding        *pgvector.Vector
	Metadata         []byte
	Filters          []byte
}

// SearchChunksParams carries one hybrid search request.
type SearchChunksParams struct {
	QueryEmbedding *pgvector.Vector
	QueryText      string
	FilterJSON     []byte // nil = unfiltered
	ResultLimit    int32
}

// SearchChunksRow is one ranked row from hybrid search.
type SearchChunksRow struct {
	ID               string
	SourceDocumentID string
	SequenceIndex    int32
	Content          string
	Metadata         []byte
	Filters          []byte
	Score            float64
}

// DefaultTopK is used when a caller passes a non-positive top-k.
const DefaultTopK = 5

// Store manages chunk records with hybrid search. The registered filter
// key set is append-only; register every key the domain will ever use
// at process start, before writes or queries begin.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries Querier
	logger  *slog.Logger

	mu         sync.RWMutex
	filterKeys map[string]struct{}
}

// New creates a Store. A nil logger uses slog.Default().
func New(querier Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:    querier,
		logger:     logger,
		filterKeys: make(map[string]struct{}),
	}
}

// RegisterFilterKey adds key to the registered filter key set.
// Idempotent.
func (s *Store) RegisterFilterKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterKeys[key] = struct{}{}
}

// validateFilter checks every key against the registered set.
func (s *Store) validateFilter(filter Filter) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range filter {
		if _, ok := s.filterKeys[key]; !ok {
			return &InvalidFilterError{Key: key}
		}
	}
	return nil
}

// Write persists one chunk. Rejects with *InvalidFilterError if the
// chunk's filter uses an unregistered key. Re-writing the same
// (source_document_id, sequence_index) overwrites the previous record.
func (s *Store) Write(ctx context.Context, chunk Chunk) error {
	if err := s.validateFilter(chunk.Filter); err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return &StoreError{Op: "write", Err: fmt.Errorf("marshaling metadata: %w", err)}
	}
	filterJSON, err := json.Marshal(chunk.Filter)
	if err != nil {
		return &StoreError{Op: "write", Err: fmt.Errorf("marshaling filter: %w", err)}
	}

	embedding := pgvector.NewVector(chunk.Embedding)

	err = s.queries.UpsertChunk(ctx, UpsertChunkParams{
		ID:               uuid.NewString(),
		SourceDocumentID: chunk.SourceDocumentID,
		SequenceIndex:    int32(chunk.SequenceIndex),
		Content:          chunk.Text,
		Embedding:        &embedding,
		Metadata:         metadataJSON,
		Filters:          filterJSON,
	})
	if err != nil {
		return &StoreError{Op: "write", Err: fmt.Errorf("chunk %s/%d: %w",
			chunk.SourceDocumentID, chunk.SequenceIndex, err)}
	}

	s.logger.Debug("chunk written",
		"source", chunk.SourceDocumentID,
		"sequence_index", chunk.SequenceIndex,
		"length", len(chunk.Text))
	return nil
}

// Search performs hybrid retrieval: reciprocal-rank fusion of vector
// similarity and keyword ranking, restricted to records whose filter
// matches filter exactly on every provided key. Results are ordered by
// fused score descending; ties break by ascending sequence index, then
// ascending source document id, so fixed inputs over fixed contents are
// deterministic.
//
// An unregistered filter key is rejected with *InvalidFilterError
// before the backend is touched.
func (s *Store) Search(ctx context.Context, queryVec []float32, queryText string, filter Filter, topK int) ([]Result, error) {
	if err := s.validateFilter(filter); err != nil {
		return nil, err
	}

	if topK <= 0 {
		topK = DefaultTopK
	}

	var filterJSON []byte
	if len(filter) > 0 {
		var err error
		// ALWAYS marshaled, never interpolated: the querier binds this
		// as a parameter to the JSONB containment operator.
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return nil, &StoreError{Op: "search", Err: fmt.Errorf("marshaling filter: %w", err)}
		}
	}

	embedding := pgvector.NewVector(queryVec)
	rows, err := s.queries.SearchChunks(ctx, SearchChunksParams{
		QueryEmbedding: &embedding,
		QueryText:      queryText,
		FilterJSON:     filterJSON,
		ResultLimit:    int32(topK),
	})
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}

	return s.rowsToResults(rows), nil
}

// Count returns the number of chunks matching filter (nil/empty = all).
func (s *Store) Count(ctx context.Context, filter Filter) (int, error) {
	if err := s.validateFilter(filter); err != nil {
		return 0, err
	}

	var filterJSON []byte
	if len(filter) > 0 {
		var err error
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return 0, &StoreError{Op: "count", Err: fmt.Errorf("marshaling filter: %w", err)}
		}
	}

	count, err := s.queries.CountChunks(ctx, filterJSON)
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}

	return int(count), nil
}

// rowsToResults converts database rows to business model Results.
func (s *Store) rowsToResults(rows []SearchChunksRow) []Result {
	results := make([]Result, 0, len(rows))

	for _, row := range rows {
		var metadata map[string]any
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			s.logger.Warn("failed to parse metadata", "chunk_id", row.ID, "error", err)
			metadata = make(map[string]any)
		}

		var filter Filter
		if err := json.Unmarshal(row.Filters, &filter); err != nil {
			s.logger.Warn("failed to parse filters", "chunk_id", row.ID, "error", err)
			filter = make(Filter)
		}

		results = append(results, Result{
			Chunk: Chunk{
				SourceDocumentID: row.SourceDocumentID,
				SequenceIndex:    int(row.SequenceIndex),
				Text:             row.Content,
				Metadata:         metadata,
				Filter:           filter,
			},
			Score: row.Score,
		})
	}

	return results
}
