// Package fetch retrieves raw post records from the external content API
// and persists them as individual JSON files on disk.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Error reports a failed fetch run. Network and decode failures are
// fatal to the run; files already flushed to disk remain.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// response is the envelope the content API returns. Individual records
// stay raw; shape validation is the loader's job.
type response struct {
	Posts []json.RawMessage `json:"posts"`
}

// recordID is the minimal decode needed to name the output file.
type recordID struct {
	ID int `json:"id"`
}

// Fetcher pulls records from a posts URL and writes them under outDir.
// Fetch runs are idempotent: existing files with the same id are
// overwritten.
type Fetcher struct {
	client *http.Client
	url    string
	outDir string
	logger *slog.Logger
}

// New creates a Fetcher. A nil client gets a 30-second timeout default;
// a nil logger uses slog.Default().
func New(client *http.Client, url, outDir string, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, url: url, outDir: outDir, logger: logger}
}

// FetchAll calls the content API once and persists every record it
// returns as <outDir>/post_<id>.json, pretty-printed UTF-8. The raw
// records are returned as-is for callers that want to inspect them.
//
// A directory-level file lock serializes concurrent fetch runs so two
// processes cannot interleave writes into the same directory.
func (f *Fetcher) FetchAll(ctx context.Context) ([]json.RawMessage, error) {
	if err := os.MkdirAll(f.outDir, 0o750); err != nil {
		return nil, &Error{URL: f.url, Err: fmt.Errorf("creating output directory: %w", err)}
	}

	lock := flock.New(filepath.Join(f.outDir, ".fetch.lock"))
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, &Error{URL: f.url, Err: fmt.Errorf("acquiring directory lock: %w", err)}
	}
	if !locked {
		return nil, &Error{URL: f.url, Err: fmt.Errorf("output directory is locked by another fetch run")}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			f.logger.Warn("releasing directory lock", "error", err)
		}
	}()

	records, err := f.fetch(ctx)
	if err != nil {
		return nil, &Error{URL: f.url, Err: err}
	}

	saved := 0
	for _, raw := range records {
		id, err := f.save(raw)
		if err != nil {
			// Partial writes remain; at-least-once semantics for a
			// re-runnable job.
			return records, &Error{URL: f.url, Err: err}
		}
		f.logger.Debug("saved record", "id", id)
		saved++
	}

	f.logger.Info("fetch completed", "records", len(records), "saved", saved, "dir", f.outDir)
	return records, nil
}

// fetch performs the single API call and decodes the envelope.
func (f *Fetcher) fetch(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return body.Posts, nil
}

// save writes one raw record to post_<id>.json, overwriting any
// existing file for that id.
func (f *Fetcher) save(raw json.RawMessage) (int, error) {
	var rec recordID
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0, fmt.Errorf("extracting record id: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return 0, fmt.Errorf("formatting record %d: %w", rec.ID, err)
	}
	pretty.WriteByte('\n')

	path := filepath.Join(f.outDir, fmt.Sprintf("post_%d.json", rec.ID))
	if err := os.WriteFile(path, pretty.Bytes(), 0o640); err != nil {
		return 0, fmt.Errorf("writing record %d: %w", rec.ID, err)
	}

	return rec.ID, nil
}
