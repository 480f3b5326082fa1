// Package chunk splits document content into semantically coherent
// segments using a similarity threshold over sentence-level embeddings.
package chunk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/koopa0/postkb/internal/record"
)

// Embedder is the embedding capability the chunker needs.
// Satisfied by *embedder.Client.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunk is one contiguous segment of a document's content.
// Concatenating chunk texts in Index order reproduces the content exactly.
type Chunk struct {
	Index int    // 0-based, contiguous, order-preserving
	Text  string
}

// Semantic merges adjacent sentences into chunks while the cosine
// similarity between the chunk's running mean embedding and the next
// sentence's embedding stays at or above the threshold.
type Semantic struct {
	embedder  Embedder
	threshold float64
}

// NewSemantic creates a semantic chunker. threshold must be in [0, 1];
// the pipeline default is 0.3.
func NewSemantic(embedder Embedder, threshold float64) *Semantic {
	return &Semantic{embedder: embedder, threshold: threshold}
}

// Chunk splits a document's content. Empty content yields zero chunks;
// single-sentence content yields one chunk without calling the embedder.
func (s *Semantic) Chunk(ctx context.Context, doc record.Document) ([]Chunk, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, nil
	}

	sentences := splitSentences(doc.Content)
	if len(sentences) == 1 {
		return []Chunk{{Index: 0, Text: sentences[0]}}, nil
	}

	vecs, err := s.embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embedding sentences of %s: %w", doc.ID, err)
	}

	var chunks []Chunk
	var current strings.Builder
	current.WriteString(sentences[0])
	mean := append([]float32(nil), vecs[0]...)
	count := 1

	for i := 1; i < len(sentences); i++ {
		if cosine(mean, vecs[i]) >= s.threshold {
			current.WriteString(sentences[i])
			mean = addToMean(mean, count, vecs[i])
			count++
			continue
		}

		chunks = append(chunks, Chunk{Index: len(chunks), Text: current.String()})
		current.Reset()
		current.WriteString(sentences[i])
		mean = append(mean[:0], vecs[i]...)
		count = 1
	}
	chunks = append(chunks, Chunk{Index: len(chunks), Text: current.String()})

	return chunks, nil
}

// splitSentences segments text into sentence units. Terminal punctuation
// and any following whitespace stay attached to the preceding unit, so
// the concatenation of all units equals the input byte-for-byte.
func splitSentences(text string) []string {
	var out []string
	start := 0
	i := 0
	runes := []rune(text)

	for i < len(runes) {
		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			// Consume a run of terminators ("..." / "?!") and closers.
			for i < len(runes) && isSentenceTail(runes[i]) {
				i++
			}
			// Attach trailing whitespace to this sentence.
			for i < len(runes) && isSpace(runes[i]) {
				i++
			}
			out = append(out, string(runes[start:i]))
			start = i
			continue
		}
		i++
	}

	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isSentenceTail(r rune) bool {
	switch r {
	case '.', '!', '?', '"', '\'', ')', ']', '…':
		return true
	}
	return false
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// cosine computes cosine similarity between two vectors of equal length.
// A zero vector yields similarity 0.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// addToMean folds vec into a running mean that currently aggregates
// count vectors, returning the updated mean.
func addToMean(mean []float32, count int, vec []float32) []float32 {
	n := float32(count)
	for i := range mean {
		mean[i] = (mean[i]*n + vec[i]) / (n + 1)
	}
	return mean
}
