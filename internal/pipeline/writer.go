package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ternarybob/crawlservice/internal/models"
)

// JSONLWriter appends RawPageRecord lines to a job's pages.raw.jsonl file,
// flushing after every write so a crashed worker loses at most the record
// currently in flight.
type JSONLWriter struct {
	mu    sync.Mutex
	file  *os.File
	w     *bufio.Writer
	count int
}

// OpenJSONLWriter opens (creating parent directories as needed) the raw
// page-record file for appending.
func OpenJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &JSONLWriter{file: f, w: bufio.NewWriter(f)}, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Write appends one record as a JSON line and flushes to disk.
func (w *JSONLWriter) Write(record *models.RawPageRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal page record: %w", err)
	}
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records written so far.
func (w *JSONLWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes and closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}
