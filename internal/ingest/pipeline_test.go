package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/koopa0/postkb/internal/chunk"
	"github.com/koopa0/postkb/internal/knowledge"
	"github.com/koopa0/postkb/internal/log"
	"github.com/koopa0/postkb/internal/record"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubChunker splits content on newlines, one chunk per line. An ID
// listed in failFor fails instead.
type stubChunker struct {
	failFor map[string]bool
}

func (s *stubChunker) Chunk(ctx context.Context, doc record.Document) ([]chunk.Chunk, error) {
	if s.failFor[doc.ID] {
		return nil, fmt.Errorf("cannot segment %s", doc.ID)
	}
	if doc.Content == "" {
		return nil, nil
	}
	var chunks []chunk.Chunk
	start := 0
	for i := 0; i <= len(doc.Content); i++ {
		if i == len(doc.Content) || doc.Content[i] == '\n' {
			end := i
			if i < len(doc.Content) {
				end = i + 1 // keep the newline attached
			}
			chunks = append(chunks, chunk.Chunk{Index: len(chunks), Text: doc.Content[start:end]})
			start = i + 1
		}
	}
	return chunks, nil
}

type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i]))}
	}
	return vecs, nil
}

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memWriter struct {
	mu      sync.Mutex
	chunks  []knowledge.Chunk
	failFor map[string]bool
}

func (w *memWriter) Write(ctx context.Context, c knowledge.Chunk) error {
	if w.failFor[c.SourceDocumentID] {
		return fmt.Errorf("write rejected for %s", c.SourceDocumentID)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append(w.chunks, c)
	return nil
}

func (w *memWriter) stored() []knowledge.Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]knowledge.Chunk(nil), w.chunks...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceDocumentID != out[j].SourceDocumentID {
			return out[i].SourceDocumentID < out[j].SourceDocumentID
		}
		return out[i].SequenceIndex < out[j].SequenceIndex
	})
	return out
}

func item(id, content string, userID int) record.Item {
	return record.Item{
		Document: record.Document{
			ID:       id,
			Content:  content,
			Metadata: map[string]any{"views": 1},
		},
		Filter: record.Filter{"user_id": userID},
	}
}

// seq wraps fixed (Item, error) pairs as a loader sequence.
func seq(pairs ...func(yield func(record.Item, error) bool) bool) iter.Seq2[record.Item, error] {
	return func(yield func(record.Item, error) bool) {
		for _, pair := range pairs {
			if !pair(yield) {
				return
			}
		}
	}
}

func ok(it record.Item) func(func(record.Item, error) bool) bool {
	return func(yield func(record.Item, error) bool) bool { return yield(it, nil) }
}

func fail(err error) func(func(record.Item, error) bool) bool {
	return func(yield func(record.Item, error) bool) bool { return yield(record.Item{}, err) }
}

func TestRunProcessesAllRecords(t *testing.T) {
	writer := &memWriter{}
	embedder := &stubEmbedder{}
	pipeline := New(&stubChunker{}, embedder, writer, 3, 0, log.NewNop())

	summary, err := pipeline.Run(context.Background(), seq(
		ok(item("post_1", "first line\nsecond line", 1)),
		ok(item("post_2", "only line", 2)),
	))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Loaded != 2 || summary.Failed != 0 || summary.ChunksWritten != 3 {
		t.Errorf("summary = %+v, want 2 loaded, 3 chunks, 0 failed", summary)
	}
	if embedder.callCount() != 2 {
		t.Errorf("embedder called %d times, want once per record", embedder.callCount())
	}

	stored := writer.stored()
	if len(stored) != 3 {
		t.Fatalf("stored %d chunks, want 3", len(stored))
	}
	first := stored[0]
	if first.SourceDocumentID != "post_1" || first.SequenceIndex != 0 || first.Text != "first line\n" {
		t.Errorf("first stored chunk = %+v", first)
	}
	if first.Filter["user_id"] != 1 {
		t.Errorf("filter not carried through: %v", first.Filter)
	}
	if first.Metadata["views"] != 1 {
		t.Errorf("metadata not carried through: %v", first.Metadata)
	}
	if len(first.Embedding) != 1 {
		t.Errorf("embedding not attached: %v", first.Embedding)
	}
}

func TestRunIsolatesRecordFailures(t *testing.T) {
	writer := &memWriter{failFor: map[string]bool{"post_3": true}}
	pipeline := New(
		&stubChunker{failFor: map[string]bool{"post_2": true}},
		&stubEmbedder{},
		writer, 2, 0, log.NewNop())

	summary, err := pipeline.Run(context.Background(), seq(
		ok(item("post_1", "survives", 1)),
		ok(item("post_2", "chunker rejects this", 1)),
		ok(item("post_3", "writer rejects this", 1)),
	))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Loaded != 1 || summary.Failed != 2 {
		t.Errorf("summary = %+v, want 1 loaded, 2 failed", summary)
	}
	stored := writer.stored()
	if len(stored) != 1 || stored[0].SourceDocumentID != "post_1" {
		t.Errorf("stored = %+v, want only post_1", stored)
	}
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	writer := &memWriter{}
	pipeline := New(&stubChunker{}, &stubEmbedder{}, writer, 2, 0, log.NewNop())

	summary, err := pipeline.Run(context.Background(), seq(
		fail(&record.Error{File: "post_9.json", Err: errors.New("parsing JSON")}),
		ok(item("post_1", "good", 1)),
	))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Loaded != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 loaded, 1 failed", summary)
	}
}

func TestRunStopsOnLoaderFailure(t *testing.T) {
	dirErr := errors.New("reading record directory: permission denied")
	writer := &memWriter{}
	pipeline := New(&stubChunker{}, &stubEmbedder{}, writer, 2, 0, log.NewNop())

	summary, err := pipeline.Run(context.Background(), seq(
		ok(item("post_1", "processed before the failure", 1)),
		fail(dirErr),
		ok(item("post_2", "never reached", 1)),
	))
	if !errors.Is(err, dirErr) {
		t.Fatalf("Run() error = %v, want the loader failure", err)
	}

	if summary.Loaded != 1 {
		t.Errorf("summary = %+v, want 1 loaded before the stop", summary)
	}
	for _, c := range writer.stored() {
		if c.SourceDocumentID == "post_2" {
			t.Errorf("record after the loader failure was processed")
		}
	}
}

func TestRunEmptyContentWritesNothing(t *testing.T) {
	writer := &memWriter{}
	embedder := &stubEmbedder{}
	pipeline := New(&stubChunker{}, embedder, writer, 1, 0, log.NewNop())

	summary, err := pipeline.Run(context.Background(), seq(
		ok(item("post_1", "", 1)),
	))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Loaded != 1 || summary.ChunksWritten != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want loaded without writes", summary)
	}
	if embedder.callCount() != 0 {
		t.Errorf("embedder called for empty content")
	}
}

func TestRunEmbedderFailureCountsRecord(t *testing.T) {
	writer := &memWriter{}
	pipeline := New(&stubChunker{}, &stubEmbedder{err: errors.New("quota exhausted")}, writer, 1, 0, log.NewNop())

	summary, err := pipeline.Run(context.Background(), seq(
		ok(item("post_1", "content", 1)),
	))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Failed != 1 || summary.Loaded != 0 {
		t.Errorf("summary = %+v, want the record counted failed", summary)
	}
	if len(writer.stored()) != 0 {
		t.Errorf("chunks stored despite embed failure")
	}
}
