// Package embedder converts text into fixed-dimension vectors via a
// Genkit ai.Embedder. It holds no local state and applies no retry
// policy; callers own timeouts and backoff.
package embedder

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// Error reports a provider failure during embedding.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client wraps a Genkit embedder with a fixed expected dimension.
type Client struct {
	embedder ai.Embedder
	dim      int
}

// New creates an embedding client. dim is the dimension every returned
// vector must have; a provider returning anything else is a failure.
func New(embedder ai.Embedder, dim int) *Client {
	return &Client{embedder: embedder, dim: dim}
}

// Dimension returns the fixed vector dimension.
func (c *Client) Dimension() int { return c.dim }

// Embed converts a single text into a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts texts into vectors, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]*ai.Document, len(texts))
	for i, text := range texts {
		input[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, &Error{Err: err}
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &Error{Err: fmt.Errorf("provider returned %d embeddings for %d inputs",
			len(resp.Embeddings), len(texts))}
	}

	vecs := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != c.dim {
			return nil, &Error{Err: fmt.Errorf("embedding %d has dimension %d, want %d",
				i, len(emb.Embedding), c.dim)}
		}
		vecs[i] = emb.Embedding
	}

	return vecs, nil
}
