package protocol

import (
	"time"

	"github.com/banshee-data/imu-logger/internal/distance"
)

// Event is emitted by Parser.HandleLine. The concrete types are
// SessionStarted, HeaderCaptured, RecordAccepted and SessionStopped.
type Event interface {
	event()
}

// SessionStarted is emitted for every start marker.
type SessionStarted struct {
	Seq   int
	Start time.Time
}

// HeaderCaptured is emitted once per session for the first header line.
type HeaderCaptured struct {
	Seq     int
	Columns []string
}

// RecordAccepted is emitted for each data line decoded while logging. Index is
// the 1-based position of the record within its session.
type RecordAccepted struct {
	Seq    int
	Index  int
	Record Record
}

// SessionStopped is emitted for every stop marker, including one that arrives
// with no session open. In that case Start is zero and so are Duration,
// Samples and Distance.
type SessionStopped struct {
	Seq      int
	Start    time.Time
	End      time.Time
	Duration time.Duration
	Samples  int
	Distance distance.Summary
}

// Started reports whether the stop closed a session opened by a start marker.
func (e SessionStopped) Started() bool { return !e.Start.IsZero() }

// DurationSeconds returns Duration in seconds.
func (e SessionStopped) DurationSeconds() float64 { return e.Duration.Seconds() }

func (SessionStarted) event() {}
func (HeaderCaptured) event() {}
func (RecordAccepted) event() {}
func (SessionStopped) event() {}
