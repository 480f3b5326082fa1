package record

import (
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// Item is one loaded document paired with its filter.
type Item struct {
	Document Document
	Filter   Filter
}

// Load returns a lazy sequence of (Item, error) pairs over all JSON files
// in dir. The directory is scanned fresh on each iteration, so the
// sequence is restartable. A malformed file yields a non-nil *Error and
// the sequence continues; only a failure to read the directory itself
// terminates iteration early.
func Load(dir string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			yield(Item{}, fmt.Errorf("reading record directory %s: %w", dir, err))
			return
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			item, err := loadFile(path)
			if err != nil {
				if !yield(Item{}, &Error{File: entry.Name(), Err: err}) {
					return
				}
				continue
			}

			if !yield(item, nil) {
				return
			}
		}
	}
}

// loadFile parses and validates a single record file.
func loadFile(path string) (Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Item{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Item{}, fmt.Errorf("parsing JSON: %w", err)
	}

	if rec.Title == "" {
		return Item{}, fmt.Errorf("missing required field %q", "title")
	}
	if rec.Body == "" {
		return Item{}, fmt.Errorf("missing required field %q", "body")
	}

	doc, filter := NewDocument(rec)
	return Item{Document: doc, Filter: filter}, nil
}
