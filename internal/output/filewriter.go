// Package output writes emitted flow records to a local file as
// newline-delimited JSON, rotating to a new numbered file once the
// current one reaches a configured record count.
package output

import (
	"fmt"
	"os"
	"sync"

	"github.com/pavelkim/flowcached/internal/flowcache"
)

// FileWriter implements flowcache.Sink by appending each emitted record's
// JSON rendering to a rotating ndjson file.
type FileWriter struct {
	filename       string
	recordsPerFile int

	mu          sync.Mutex
	file        *os.File
	recordCount int
	fileIndex   int
	cache       *flowcache.Cache
}

// NewFileWriter opens filename for ndjson output. recordsPerFile <= 0
// disables rotation (a single file grows unbounded).
func NewFileWriter(cache *flowcache.Cache, filename string, recordsPerFile int) (*FileWriter, error) {
	w := &FileWriter{
		cache:          cache,
		filename:       filename,
		recordsPerFile: recordsPerFile,
	}

	if err := w.openCurrent(); err != nil {
		return nil, err
	}

	return w, nil
}

// EmitFlow implements flowcache.Sink.
func (w *FileWriter) EmitFlow(r *flowcache.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.recordsPerFile > 0 && w.recordCount >= w.recordsPerFile {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate output file: %w", err)
		}
	}

	fj := w.cache.BuildJSON(r)
	if err := flowcache.WriteFlowJSON(w.file, fj); err != nil {
		return fmt.Errorf("failed to write flow record: %w", err)
	}

	w.recordCount++
	return nil
}

// Close closes the current output file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *FileWriter) openCurrent() error {
	name := w.filename
	if w.recordsPerFile > 0 {
		name = w.numberedName(w.fileIndex)
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	w.file = f
	w.recordCount = 0
	return nil
}

func (w *FileWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
	}
	w.fileIndex++
	return w.openCurrent()
}

func (w *FileWriter) numberedName(index int) string {
	return fmt.Sprintf("%s.%d", w.filename, index)
}
