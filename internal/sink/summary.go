package sink

import (
	"strconv"

	"github.com/banshee-data/imu-logger/internal/fsutil"
	"github.com/banshee-data/imu-logger/internal/protocol"
)

// TimeLayout is the summary file's timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// SummaryHeader is written once when the summary file is created.
var SummaryHeader = []string{
	"session_number",
	"start_time",
	"end_time",
	"duration_sec",
	"distance_x_m",
	"distance_y_m",
	"distance_z_m",
	"total_distance_m",
	"num_samples",
}

// SummaryWriter appends one row per completed session.
type SummaryWriter struct {
	csv *CSVWriter
}

// NewSummaryWriter truncates path and writes the fixed header.
func NewSummaryWriter(fsys fsutil.FileSystem, path string) (*SummaryWriter, error) {
	w, err := NewCSVWriter(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := w.WriteRow(SummaryHeader); err != nil {
		w.Close()
		return nil, err
	}
	return &SummaryWriter{csv: w}, nil
}

// Path returns the output file path.
func (s *SummaryWriter) Path() string { return s.csv.Path() }

// WriteSession appends the summary of a stopped session.
func (s *SummaryWriter) WriteSession(ev protocol.SessionStopped) error {
	return s.csv.WriteRow(FormatSummary(ev))
}

// Sessions returns the number of summary rows written.
func (s *SummaryWriter) Sessions() uint64 {
	// The header is the first row.
	return s.csv.Rows() - 1
}

// Close flushes and closes the file.
func (s *SummaryWriter) Close() error { return s.csv.Close() }

// FormatSummary renders a stopped session as a summary row: local wall-clock
// times, duration to 2 decimals and distances to 3 decimals.
func FormatSummary(ev protocol.SessionStopped) []string {
	d := ev.Distance.Displacement
	return []string{
		strconv.Itoa(ev.Seq),
		ev.Start.Local().Format(TimeLayout),
		ev.End.Local().Format(TimeLayout),
		strconv.FormatFloat(ev.DurationSeconds(), 'f', 2, 64),
		strconv.FormatFloat(d.X, 'f', 3, 64),
		strconv.FormatFloat(d.Y, 'f', 3, 64),
		strconv.FormatFloat(d.Z, 'f', 3, 64),
		strconv.FormatFloat(ev.Distance.Total, 'f', 3, 64),
		strconv.Itoa(ev.Samples),
	}
}
