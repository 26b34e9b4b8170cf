// Package sink writes parsed telemetry to its destinations: the per-record
// data file, the per-session summary file and the console.
package sink

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/banshee-data/imu-logger/internal/fsutil"
)

// ErrClosed is returned when writing to a closed writer.
var ErrClosed = errors.New("sink closed")

// CSVWriter is a buffered CSV writer that flushes after every row, so a row
// is on disk as soon as WriteRow returns and an abrupt stop loses at most the
// row being written.
type CSVWriter struct {
	mu     sync.Mutex
	path   string
	file   io.WriteCloser
	buf    *bufio.Writer
	csv    *csv.Writer
	rows   uint64
	closed bool
}

// NewCSVWriter creates (or truncates) path on fsys. The parent directory is
// created when missing.
func NewCSVWriter(fsys fsutil.FileSystem, path string) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" && !fsys.Exists(dir) {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	bw := bufio.NewWriter(f)
	return &CSVWriter{
		path: path,
		file: f,
		buf:  bw,
		csv:  csv.NewWriter(bw),
	}, nil
}

// Path returns the file the writer was created for.
func (w *CSVWriter) Path() string { return w.path }

// WriteRow appends and flushes a single row.
func (w *CSVWriter) WriteRow(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("failed to write row to %s: %w", w.path, err)
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *CSVWriter) flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", w.path, err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", w.path, err)
	}
	return nil
}

// Close flushes remaining data and closes the file. Later calls are no-ops.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.flush()
	closeErr := w.file.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("failed to close %s: %w", w.path, closeErr)
	}
	return errors.Join(flushErr, closeErr)
}

// Rows returns the number of rows written, header rows included.
func (w *CSVWriter) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}
