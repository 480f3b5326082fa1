package knowledge

import "fmt"

// Filter constrains queries and tags stored chunks. Matching is exact
// equality on every provided key. Only keys registered with the store
// are honored; unregistered keys are rejected, never silently ignored.
type Filter map[string]any

// Chunk is one retrievable record: a contiguous segment of a source
// document together with its embedding, metadata and filter. Immutable
// once written.
type Chunk struct {
	SourceDocumentID string
	SequenceIndex    int // 0-based, contiguous per source document
	Text             string
	Embedding        []float32
	Metadata         map[string]any
	Filter           Filter
}

// Result is a single search hit with its fused relevance score.
type Result struct {
	Chunk Chunk
	Score float64
}

// InvalidFilterError reports use of a filter key that was never
// registered. This is an error by contract: a naive store would return
// an empty result set instead, masking a caller typo.
type InvalidFilterError struct {
	Key string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("filter key %q is not registered", e.Key)
}

// StoreError reports a persistence or query backend failure. No retry
// happens at this layer; retry policy belongs to the caller.
type StoreError struct {
	Op  string // "write", "search", "count"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("knowledge store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
