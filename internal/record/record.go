// Package record loads persisted post records and converts them into
// normalized documents with query filters.
package record

import (
	"fmt"
)

// Record is the raw shape of a fetched post. Required fields are ID,
// Title and Body; everything else defaults when absent.
type Record struct {
	ID        int            `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Tags      []string       `json:"tags"`
	Reactions map[string]int `json:"reactions"`
	Views     int            `json:"views"`
	UserID    int            `json:"userId"`
}

// Document is a normalized record ready for chunking. Immutable after
// creation.
type Document struct {
	ID       string // "post_<id>", stable across re-runs
	Name     string // record title
	Content  string // record body
	Metadata map[string]any
}

// Filter tags stored chunks and constrains queries; keys must be
// registered with the knowledge store before use.
type Filter map[string]any

// Error reports a single malformed record file. The batch continues past
// it; callers match with errors.As.
type Error struct {
	File string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("record %s: %v", e.File, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewDocument converts a record into a Document plus its Filter.
// Tags, reactions and views default to empty/zero; userId maps to the
// user_id filter key, defaulting to 0.
func NewDocument(rec Record) (Document, Filter) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	reactions := rec.Reactions
	if reactions == nil {
		reactions = map[string]int{}
	}

	doc := Document{
		ID:      fmt.Sprintf("post_%d", rec.ID),
		Name:    rec.Title,
		Content: rec.Body,
		Metadata: map[string]any{
			"tags":      tags,
			"reactions": reactions,
			"views":     rec.Views,
		},
	}

	filter := Filter{
		"user_id": rec.UserID,
	}

	return doc, filter
}
