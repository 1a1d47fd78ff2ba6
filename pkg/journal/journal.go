// Package journal persists trade and decision records to a directory, one
// file per event, for offline audit.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec selects the on-disk encoding.
type Codec string

const (
	// CodecJSON writes indented JSON, greppable and diff-friendly.
	CodecJSON Codec = "json"
	// CodecMsgpack writes msgpack, compact for long-running sessions.
	CodecMsgpack Codec = "msgpack"
)

// Entry captures one trade or risk event.
type Entry struct {
	Timestamp time.Time      `json:"timestamp" msgpack:"timestamp"`
	Worker    string         `json:"worker" msgpack:"worker"`
	Event     string         `json:"event" msgpack:"event"`
	RequestID string         `json:"request_id,omitempty" msgpack:"request_id,omitempty"`
	Action    string         `json:"action,omitempty" msgpack:"action,omitempty"`
	Size      float64        `json:"size,omitempty" msgpack:"size,omitempty"`
	Price     float64        `json:"price,omitempty" msgpack:"price,omitempty"`
	PnL       float64        `json:"pnl,omitempty" msgpack:"pnl,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty" msgpack:"dry_run,omitempty"`
	Error     string         `json:"error,omitempty" msgpack:"error,omitempty"`
	Extra     map[string]any `json:"extra,omitempty" msgpack:"extra,omitempty"`
}

// Writer persists entries to a directory as numbered files. Safe for use
// from multiple workers.
type Writer struct {
	mu    sync.Mutex
	dir   string
	codec Codec
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer. An empty codec defaults to JSON.
func NewWriter(dir string, codec Codec) *Writer {
	if dir == "" {
		dir = "journal"
	}
	if codec == "" {
		codec = CodecJSON
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, codec: codec, nowFn: time.Now}
}

// Write persists one entry and returns the file path.
func (w *Writer) Write(rec *Entry) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	var data []byte
	var err error
	ext := "json"
	switch w.codec {
	case CodecMsgpack:
		ext = "msgpack"
		data, err = msgpack.Marshal(rec)
	default:
		data, err = json.MarshalIndent(rec, "", "  ")
	}
	if err != nil {
		return "", fmt.Errorf("journal: encode record: %w", err)
	}

	name := fmt.Sprintf("event_%s_%05d.%s", rec.Timestamp.UTC().Format("20060102_150405"), seq, ext)
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("journal: write record: %w", err)
	}
	return path, nil
}

// Read decodes one entry file written by a Writer, inferring the codec from
// the extension.
func Read(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: read record: %w", err)
	}
	var rec Entry
	if filepath.Ext(path) == ".msgpack" {
		err = msgpack.Unmarshal(data, &rec)
	} else {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: decode record: %w", err)
	}
	return &rec, nil
}
