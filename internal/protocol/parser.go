// Package protocol implements the line protocol spoken by the IMU logger
// firmware: session framing markers, a header line and fixed-arity numeric
// data lines.
package protocol

import (
	"strings"
	"time"

	"github.com/banshee-data/imu-logger/internal/distance"
	"github.com/banshee-data/imu-logger/internal/timeutil"
)

// Marker substrings sent by the device.
const (
	MarkerStart  = "LOGGING STARTED"
	MarkerStop   = "LOGGING STOPPED"
	MarkerHeader = "unixtime_ms"
)

// State is the session state of a Parser.
type State int

const (
	// StateIdle means no session is open.
	StateIdle State = iota
	// StateAwaitingHeader means a session is open but has no header yet.
	StateAwaitingHeader
	// StateLogging means data lines are being accepted.
	StateLogging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateLogging:
		return "logging"
	default:
		return "unknown"
	}
}

// Session describes the current, or most recently stopped, logging session.
type Session struct {
	Seq     int
	Start   time.Time
	End     time.Time
	Samples int
	Header  []string
}

// Parser is the session state machine. It is not safe for concurrent use; a
// single goroutine feeds it lines.
type Parser struct {
	clock   timeutil.Clock
	state   State
	seq     int
	session Session
	dist    distance.Accumulator
}

// NewParser returns an idle parser that stamps sessions using clock. A nil
// clock means wall-clock time.
func NewParser(clock timeutil.Clock) *Parser {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Parser{clock: clock}
}

// State returns the current state.
func (p *Parser) State() State { return p.state }

// Seq returns the number of start markers seen so far.
func (p *Parser) Seq() int { return p.seq }

// Session returns a copy of the current or last session.
func (p *Parser) Session() Session {
	s := p.session
	if s.Header != nil {
		s.Header = append([]string(nil), s.Header...)
	}
	return s
}

// Distance returns the accumulator state for the current session.
func (p *Parser) Distance() distance.Summary { return p.dist.Finalize() }

// HandleLine feeds one raw line to the state machine.
//
// Marker lines and lines ignored in the current state return (events, nil)
// with zero or more events. A data line rejected while logging returns a nil
// event slice and an error matching ErrMalformedRecord; the session is left
// untouched.
func (p *Parser) HandleLine(line string) ([]Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	switch {
	case strings.Contains(line, MarkerStart):
		return []Event{p.start()}, nil
	case isHeader(line):
		return p.header(line), nil
	case strings.Contains(line, MarkerStop):
		return []Event{p.stop()}, nil
	}

	if p.state != StateLogging {
		return nil, nil
	}

	rec, err := Decode(line)
	if err != nil {
		return nil, err
	}
	p.session.Samples++
	p.dist.Observe(rec.Position())
	return []Event{RecordAccepted{Seq: p.seq, Index: p.session.Samples, Record: rec}}, nil
}

func isHeader(line string) bool {
	return strings.HasPrefix(line, MarkerHeader) || strings.Contains(line, MarkerHeader)
}

// start discards any open session without finalizing it.
func (p *Parser) start() Event {
	p.seq++
	p.dist.Reset()
	p.session = Session{Seq: p.seq, Start: p.clock.Now()}
	p.state = StateAwaitingHeader
	return SessionStarted{Seq: p.seq, Start: p.session.Start}
}

func (p *Parser) header(line string) []Event {
	if p.state != StateAwaitingHeader {
		return nil
	}
	p.session.Header = strings.Split(line, Delimiter)
	p.state = StateLogging
	return []Event{HeaderCaptured{Seq: p.seq, Columns: append([]string(nil), p.session.Header...)}}
}

func (p *Parser) stop() Event {
	end := p.clock.Now()
	if p.state == StateIdle {
		// Even after an earlier session: its start is not reused, so a
		// repeated stop produces no second summary row.
		return SessionStopped{Seq: p.seq, End: end}
	}

	p.session.End = end
	p.state = StateIdle
	return SessionStopped{
		Seq:      p.seq,
		Start:    p.session.Start,
		End:      end,
		Duration: end.Sub(p.session.Start),
		Samples:  p.session.Samples,
		Distance: p.dist.Finalize(),
	}
}
