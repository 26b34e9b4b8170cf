package sink

import (
	"strconv"

	"github.com/banshee-data/imu-logger/internal/fsutil"
	"github.com/banshee-data/imu-logger/internal/protocol"
)

// DataWriter is the primary output: the header row of each session followed
// by one row per accepted record.
type DataWriter struct {
	csv     *CSVWriter
	records uint64
}

// NewDataWriter truncates path and returns a writer for it.
func NewDataWriter(fsys fsutil.FileSystem, path string) (*DataWriter, error) {
	w, err := NewCSVWriter(fsys, path)
	if err != nil {
		return nil, err
	}
	return &DataWriter{csv: w}, nil
}

// Path returns the output file path.
func (d *DataWriter) Path() string { return d.csv.Path() }

// WriteHeader writes the session's header columns verbatim.
func (d *DataWriter) WriteHeader(columns []string) error {
	return d.csv.WriteRow(columns)
}

// WriteRecord writes the ten numeric fields of rec.
func (d *DataWriter) WriteRecord(rec protocol.Record) error {
	if err := d.csv.WriteRow(FormatRecord(rec)); err != nil {
		return err
	}
	d.records++
	return nil
}

// Records returns the number of data rows written across all sessions.
func (d *DataWriter) Records() uint64 { return d.records }

// Close flushes and closes the file.
func (d *DataWriter) Close() error { return d.csv.Close() }

// FormatRecord renders each field in its shortest round-trip form.
func FormatRecord(rec protocol.Record) []string {
	row := make([]string, len(rec))
	for i, v := range rec {
		row[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return row
}
