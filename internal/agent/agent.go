// Package agent answers questions grounded in the knowledge store:
// embed the question, retrieve matching chunks, generate a completion
// over the retrieved context.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/postkb/internal/knowledge"
)

// Embedder turns the question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher performs hybrid retrieval over stored chunks.
type Searcher interface {
	Search(ctx context.Context, queryVec []float32, queryText string, filter knowledge.Filter, topK int) ([]knowledge.Result, error)
}

// Error reports a failure in one stage of answering. Stage is "embed",
// "search" or "generate".
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Answer is a generated response together with the retrieved chunks it
// was grounded in, in rank order.
type Answer struct {
	Text    string
	Sources []knowledge.Result
}

const systemPrompt = `You are a question answering assistant for a personal knowledge base.
Answer using ONLY the provided context passages. If the context does not
contain the answer, say so plainly instead of guessing. Keep answers
concise and mention which passages you drew on when it helps.`

// Agent wires retrieval to generation.
type Agent struct {
	embedder Embedder
	store    Searcher
	logger   *slog.Logger

	// generate is swapped out by tests; the default calls the model
	// through Genkit.
	generate func(ctx context.Context, prompt string) (string, error)
}

// New creates an Agent generating with the named model through g.
// A nil logger uses slog.Default().
func New(g *genkit.Genkit, modelName string, embedder Embedder, store Searcher, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		embedder: embedder,
		store:    store,
		logger:   logger,
		generate: func(ctx context.Context, prompt string) (string, error) {
			response, err := genkit.Generate(ctx, g,
				ai.WithModelName(modelName),
				ai.WithSystem(systemPrompt),
				ai.WithPrompt(prompt),
			)
			if err != nil {
				return "", err
			}
			return response.Text(), nil
		},
	}
}

// Ask answers question from chunks matching filter. topK bounds the
// number of retrieved chunks; non-positive means the store default. An
// unregistered filter key surfaces as the search stage error, wrapping
// *knowledge.InvalidFilterError.
func (a *Agent) Ask(ctx context.Context, question string, filter knowledge.Filter, topK int) (*Answer, error) {
	queryVec, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, &Error{Stage: "embed", Err: err}
	}

	results, err := a.store.Search(ctx, queryVec, question, filter, topK)
	if err != nil {
		return nil, &Error{Stage: "search", Err: err}
	}

	a.logger.Debug("retrieved context",
		"question_length", len(question),
		"chunks", len(results))

	text, err := a.generate(ctx, buildPrompt(question, results))
	if err != nil {
		return nil, &Error{Stage: "generate", Err: err}
	}

	return &Answer{Text: text, Sources: results}, nil
}

// buildPrompt assembles the context block and the question. Passages
// keep their retrieval order so "passage 1" is always the best match.
func buildPrompt(question string, results []knowledge.Result) string {
	var b strings.Builder

	if len(results) == 0 {
		b.WriteString("Context: no matching passages were found.\n\n")
	} else {
		b.WriteString("Context passages:\n\n")
		for i, r := range results {
			fmt.Fprintf(&b, "[%d] (source %s, part %d)\n%s\n\n",
				i+1, r.Chunk.SourceDocumentID, r.Chunk.SequenceIndex+1, r.Chunk.Text)
		}
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
