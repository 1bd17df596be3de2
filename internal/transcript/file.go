package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// fileRecord is the JSON-lines representation of an [Entry].
type fileRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Backend   string    `json:"backend,omitempty"`
}

// FileSink persists entries as append-only JSON lines in a local file.
// Suitable for single-machine deployments that want transcripts to survive a
// restart without running PostgreSQL. Thread-safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	path string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a FileSink that writes to path. The file is created on
// the first append if it does not exist.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Append implements [Sink].
func (fs *FileSink) Append(_ context.Context, entry Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(fileRecord{
		Timestamp: entry.Timestamp,
		SessionID: entry.SessionID,
		Role:      entry.Role,
		Text:      entry.Text,
		Backend:   entry.Backend,
	})
	if err != nil {
		return fmt.Errorf("transcript: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	return nil
}

// Recent implements [Sink]. The whole file is scanned; acceptable for the
// transcript volumes a single conversation produces.
func (fs *FileSink) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: open file: %w", err)
	}
	defer f.Close()

	var matched []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("transcript: corrupt line: %w", err)
		}
		if rec.SessionID != sessionID {
			continue
		}
		matched = append(matched, Entry{
			SessionID: rec.SessionID,
			Role:      rec.Role,
			Text:      rec.Text,
			Backend:   rec.Backend,
			Timestamp: rec.Timestamp,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan: %w", err)
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
