// Package ingest drives the load, chunk, embed and store stages over a
// directory of record files, with a bounded worker pool and a shared
// rate limit on embedding calls.
package ingest

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/koopa0/postkb/internal/chunk"
	"github.com/koopa0/postkb/internal/knowledge"
	"github.com/koopa0/postkb/internal/record"
)

// Chunker splits one document into ordered segments.
// Satisfied by *chunk.Semantic.
type Chunker interface {
	Chunk(ctx context.Context, doc record.Document) ([]chunk.Chunk, error)
}

// Embedder embeds a batch of chunk texts. Satisfied by *embedder.Client.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Writer persists one chunk. Satisfied by *knowledge.Store.
type Writer interface {
	Write(ctx context.Context, chunk knowledge.Chunk) error
}

// Summary reports what one pipeline run did. A failed record never
// aborts the run; its count is the signal.
type Summary struct {
	Loaded        int // records processed end to end
	ChunksWritten int // chunks persisted to the store
	Failed        int // records that failed at any stage
}

// Pipeline processes records concurrently. Records are independent, so
// a failure in one leaves the others untouched; chunks of a single
// record are written in sequence order within one worker.
type Pipeline struct {
	chunker  Chunker
	embedder Embedder
	writer   Writer
	workers  int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Pipeline with the given worker count. embedsPerSecond
// throttles embedding requests across all workers; non-positive means
// unthrottled. A nil logger uses slog.Default().
func New(chunker Chunker, embedder Embedder, writer Writer, workers int, embedsPerSecond float64, logger *slog.Logger) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	limit := rate.Inf
	if embedsPerSecond > 0 {
		limit = rate.Limit(embedsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		writer:   writer,
		workers:  workers,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Run consumes items until the sequence ends or ctx is canceled.
// Malformed records (a *record.Error from the loader) are counted as
// failures and skipped; any other load error terminates the run and is
// returned alongside the partial summary.
func (p *Pipeline) Run(ctx context.Context, items iter.Seq2[record.Item, error]) (Summary, error) {
	work := make(chan record.Item)

	var loaded, written, failed atomic.Int64

	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				n, err := p.process(ctx, item)
				written.Add(int64(n))
				if err != nil {
					failed.Add(1)
					p.logger.Warn("record failed",
						"document", item.Document.ID, "error", err)
					continue
				}
				loaded.Add(1)
			}
		}()
	}

	var runErr error
feed:
	for item, err := range items {
		if err != nil {
			var recErr *record.Error
			if errors.As(err, &recErr) {
				failed.Add(1)
				p.logger.Warn("record skipped", "file", recErr.File, "error", recErr.Err)
				continue
			}
			runErr = err
			break
		}

		select {
		case work <- item:
		case <-ctx.Done():
			runErr = ctx.Err()
			break feed
		}
	}
	close(work)
	wg.Wait()

	summary := Summary{
		Loaded:        int(loaded.Load()),
		ChunksWritten: int(written.Load()),
		Failed:        int(failed.Load()),
	}

	p.logger.Info("ingest finished",
		"loaded", summary.Loaded,
		"chunks_written", summary.ChunksWritten,
		"failed", summary.Failed)

	return summary, runErr
}

// process runs one record through chunk, embed and store. It returns
// the number of chunks written, which can be non-zero even on error
// when a later chunk's write fails.
func (p *Pipeline) process(ctx context.Context, item record.Item) (int, error) {
	chunks, err := p.chunker.Chunk(ctx, item.Document)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	written := 0
	for i, c := range chunks {
		err := p.writer.Write(ctx, knowledge.Chunk{
			SourceDocumentID: item.Document.ID,
			SequenceIndex:    c.Index,
			Text:             c.Text,
			Embedding:        vecs[i],
			Metadata:         item.Document.Metadata,
			Filter:           knowledge.Filter(item.Filter),
		})
		if err != nil {
			return written, err
		}
		written++
	}

	return written, nil
}
