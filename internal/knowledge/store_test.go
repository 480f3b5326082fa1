package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/koopa0/postkb/internal/log"
)

// mockQuerier implements Querier for testing.
type mockQuerier struct {
	upsertErr error
	searchErr error
	countErr  error

	searchResults []SearchChunksRow
	countResult   int64

	upsertCalls []UpsertChunkParams
	searchCalls []SearchChunksParams
	countCalls  int
}

func (m *mockQuerier) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	m.upsertCalls = append(m.upsertCalls, arg)
	return m.upsertErr
}

func (m *mockQuerier) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	m.searchCalls = append(m.searchCalls, arg)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchResults, nil
}

func (m *mockQuerier) CountChunks(ctx context.Context, filterJSON []byte) (int64, error) {
	m.countCalls++
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.countResult, nil
}

func testChunk() Chunk {
	return Chunk{
		SourceDocumentID: "post_1",
		SequenceIndex:    0,
		Text:             "Sentence one.",
		Embedding:        []float32{0.1, 0.2, 0.3},
		Metadata:         map[string]any{"views": 305},
		Filter:           Filter{"user_id": 7},
	}
}

func TestWriteAcceptsRegisteredFilterKey(t *testing.T) {
	querier := &mockQuerier{}
	store := New(querier, log.NewNop())
	store.RegisterFilterKey("user_id")

	if err := store.Write(context.Background(), testChunk()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if len(querier.upsertCalls) != 1 {
		t.Fatalf("got %d upsert calls, want 1", len(querier.upsertCalls))
	}
	arg := querier.upsertCalls[0]
	if arg.SourceDocumentID != "post_1" || arg.SequenceIndex != 0 {
		t.Errorf("upsert key = %s/%d", arg.SourceDocumentID, arg.SequenceIndex)
	}

	var filter map[string]any
	if err := json.Unmarshal(arg.Filters, &filter); err != nil {
		t.Fatalf("filters not valid JSON: %v", err)
	}
	if filter["user_id"] != float64(7) {
		t.Errorf("filter user_id = %v, want 7", filter["user_id"])
	}
}

func TestWriteRejectsUnregisteredFilterKey(t *testing.T) {
	querier := &mockQuerier{}
	store := New(querier, log.NewNop())
	// "user_id" deliberately not registered.

	err := store.Write(context.Background(), testChunk())

	var invalidErr *InvalidFilterError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("error %v is not *InvalidFilterError", err)
	}
	if invalidErr.Key != "user_id" {
		t.Errorf("Key = %q, want user_id", invalidErr.Key)
	}
	if len(querier.upsertCalls) != 0 {
		t.Errorf("upsert reached the backend despite invalid filter")
	}
}

func TestRegisterFilterKeyIdempotent(t *testing.T) {
	store := New(&mockQuerier{}, log.NewNop())
	store.RegisterFilterKey("user_id")
	store.RegisterFilterKey("user_id")

	if err := store.validateFilter(Filter{"user_id": 7}); err != nil {
		t.Errorf("validateFilter() = %v after double registration", err)
	}
}

func TestSearchRejectsUnregisteredKeyBeforeBackend(t *testing.T) {
	querier := &mockQuerier{searchResults: []SearchChunksRow{{ID: "x"}}}
	store := New(querier, log.NewNop())
	store.RegisterFilterKey("user_id")

	_, err := store.Search(context.Background(),
		[]float32{1}, "question", Filter{"account_id": 7}, 5)

	var invalidErr *InvalidFilterError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("error %v is not *InvalidFilterError", err)
	}
	if invalidErr.Key != "account_id" {
		t.Errorf("Key = %q, want account_id", invalidErr.Key)
	}
	if len(querier.searchCalls) != 0 {
		t.Errorf("search reached the backend despite invalid filter")
	}
}

func TestSearchPassesMarshaledFilter(t *testing.T) {
	querier := &mockQuerier{
		searchResults: []SearchChunksRow{
			{
				ID:               "c1",
				SourceDocumentID: "post_1",
				SequenceIndex:    0,
				Content:          "Sentence one.",
				Metadata:         []byte(`{"views": 305}`),
				Filters:          []byte(`{"user_id": 7}`),
				Score:            0.03,
			},
		},
	}
	store := New(querier, log.NewNop())
	store.RegisterFilterKey("user_id")

	results, err := store.Search(context.Background(),
		[]float32{0.1}, "her terrible habit", Filter{"user_id": 7}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(querier.searchCalls) != 1 {
		t.Fatalf("got %d search calls, want 1", len(querier.searchCalls))
	}
	call := querier.searchCalls[0]
	if call.QueryText != "her terrible habit" {
		t.Errorf("QueryText = %q", call.QueryText)
	}
	if string(call.FilterJSON) != `{"user_id":7}` {
		t.Errorf("FilterJSON = %s", call.FilterJSON)
	}
	if call.ResultLimit != 1 {
		t.Errorf("ResultLimit = %d, want 1", call.ResultLimit)
	}

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	got := results[0]
	if got.Chunk.Text != "Sentence one." || got.Score != 0.03 {
		t.Errorf("result = %+v", got)
	}
	if got.Chunk.Metadata["views"] != float64(305) {
		t.Errorf("metadata views = %v", got.Chunk.Metadata["views"])
	}
}

func TestSearchEmptyFilterPassesNilJSON(t *testing.T) {
	querier := &mockQuerier{}
	store := New(querier, log.NewNop())

	if _, err := store.Search(context.Background(), []float32{1}, "q", nil, 5); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if querier.searchCalls[0].FilterJSON != nil {
		t.Errorf("FilterJSON = %s, want nil", querier.searchCalls[0].FilterJSON)
	}
}

func TestSearchDefaultsTopK(t *testing.T) {
	querier := &mockQuerier{}
	store := New(querier, log.NewNop())

	if _, err := store.Search(context.Background(), []float32{1}, "q", nil, 0); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if querier.searchCalls[0].ResultLimit != DefaultTopK {
		t.Errorf("ResultLimit = %d, want %d", querier.searchCalls[0].ResultLimit, DefaultTopK)
	}
}

func TestSearchBackendErrorWrappedAsStoreError(t *testing.T) {
	backend := errors.New("connection reset")
	store := New(&mockQuerier{searchErr: backend}, log.NewNop())

	_, err := store.Search(context.Background(), []float32{1}, "q", nil, 5)

	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("error %v is not *StoreError", err)
	}
	if storeErr.Op != "search" {
		t.Errorf("Op = %q, want search", storeErr.Op)
	}
	if !errors.Is(err, backend) {
		t.Errorf("backend error not wrapped: %v", err)
	}
}

func TestWriteBackendErrorWrappedAsStoreError(t *testing.T) {
	backend := errors.New("disk full")
	store := New(&mockQuerier{upsertErr: backend}, log.NewNop())
	store.RegisterFilterKey("user_id")

	err := store.Write(context.Background(), testChunk())

	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("error %v is not *StoreError", err)
	}
	if storeErr.Op != "write" {
		t.Errorf("Op = %q, want write", storeErr.Op)
	}
}

func TestCount(t *testing.T) {
	querier := &mockQuerier{countResult: 42}
	store := New(querier, log.NewNop())
	store.RegisterFilterKey("user_id")

	n, err := store.Count(context.Background(), Filter{"user_id": 7})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 42 {
		t.Errorf("Count() = %d, want 42", n)
	}

	if _, err := store.Count(context.Background(), Filter{"nope": 1}); err == nil {
		t.Errorf("Count() with unregistered key succeeded")
	}
}
