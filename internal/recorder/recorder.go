// Package recorder drives one logging run: it feeds serial lines to the
// session parser and fans the resulting events out to the output files, the
// console and the optional session store.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/imu-logger/internal/db"
	"github.com/banshee-data/imu-logger/internal/monitoring"
	"github.com/banshee-data/imu-logger/internal/protocol"
	"github.com/banshee-data/imu-logger/internal/sink"
	"github.com/banshee-data/imu-logger/internal/timeutil"
)

// Store is the subset of *db.DB the recorder writes to.
type Store interface {
	CreateSession(s *db.Session) error
	SetSessionHeader(sessionID int64, columns []string) error
	RecordSample(sessionID int64, index int, rec protocol.Record) error
	CompleteSession(sessionID int64, ev protocol.SessionStopped) error
	CompleteRun(runID string, end time.Time) error
	Close() error
}

// Options configures a Recorder. Data is required; the rest are optional.
type Options struct {
	Data    *sink.DataWriter
	Summary *sink.SummaryWriter
	Console *sink.Console
	Store   Store
	// RunID identifies the run in Store.
	RunID string
	Clock timeutil.Clock
}

// Recorder owns the parser and sinks of a run. HandleLine and Run must be
// called from a single goroutine.
type Recorder struct {
	parser  *protocol.Parser
	clock   timeutil.Clock
	data    *sink.DataWriter
	summary *sink.SummaryWriter
	console *sink.Console
	store   Store
	runID   string

	// sessionID is the store row of the open session, 0 when none.
	sessionID int64
	entries   uint64
	rejected  uint64

	closeOnce sync.Once
	closeErr  error
}

// New returns a Recorder writing to the sinks in opts.
func New(opts Options) (*Recorder, error) {
	if opts.Data == nil {
		return nil, errors.New("recorder: data writer is required")
	}
	if opts.Store != nil && opts.RunID == "" {
		return nil, errors.New("recorder: a store needs a run ID")
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		parser:  protocol.NewParser(clock),
		clock:   clock,
		data:    opts.Data,
		summary: opts.Summary,
		console: opts.Console,
		store:   opts.Store,
		runID:   opts.RunID,
	}, nil
}

// State returns the parser state.
func (r *Recorder) State() protocol.State { return r.parser.State() }

// Entries returns the number of records logged in this run.
func (r *Recorder) Entries() uint64 { return r.entries }

// Rejected returns the number of data lines discarded as malformed.
func (r *Recorder) Rejected() uint64 { return r.rejected }

// Run consumes lines until ctx is done or lines is closed. Both are normal
// ends of a run and return nil; a failing line source reports its own error.
func (r *Recorder) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			r.HandleLine(line)
		}
	}
}

// HandleLine processes one line. Malformed data lines and sink failures are
// logged; neither stops the run.
func (r *Recorder) HandleLine(line string) {
	events, err := r.parser.HandleLine(line)
	if err != nil {
		r.rejected++
		monitoring.Debugf("discarded line %q: %v", line, err)
		return
	}
	for _, ev := range events {
		r.dispatch(ev)
	}
}

func (r *Recorder) dispatch(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.SessionStarted:
		r.sessionStarted(ev)
	case protocol.HeaderCaptured:
		r.headerCaptured(ev)
	case protocol.RecordAccepted:
		r.recordAccepted(ev)
	case protocol.SessionStopped:
		r.sessionStopped(ev)
	}
}

func (r *Recorder) sessionStarted(ev protocol.SessionStarted) {
	r.sessionID = 0
	if r.console != nil {
		logErr("console", r.console.SessionStarted(ev))
	}
	if r.store != nil {
		s := &db.Session{RunID: r.runID, Seq: ev.Seq, StartedAt: ev.Start}
		if err := r.store.CreateSession(s); err != nil {
			logErr("store", err)
			return
		}
		r.sessionID = s.ID
	}
}

func (r *Recorder) headerCaptured(ev protocol.HeaderCaptured) {
	logErr("data file", r.data.WriteHeader(ev.Columns))
	if r.store != nil && r.sessionID != 0 {
		logErr("store", r.store.SetSessionHeader(r.sessionID, ev.Columns))
	}
}

func (r *Recorder) recordAccepted(ev protocol.RecordAccepted) {
	r.entries++
	logErr("data file", r.data.WriteRecord(ev.Record))
	if r.console != nil {
		logErr("console", r.console.Record(ev))
	}
	if r.store != nil && r.sessionID != 0 {
		logErr("store", r.store.RecordSample(r.sessionID, ev.Index, ev.Record))
	}
}

func (r *Recorder) sessionStopped(ev protocol.SessionStopped) {
	if !ev.Started() {
		monitoring.Logf("stop marker with no session open, ignoring")
		return
	}
	if r.summary != nil {
		logErr("summary file", r.summary.WriteSession(ev))
	}
	if r.store != nil && r.sessionID != 0 {
		logErr("store", r.store.CompleteSession(r.sessionID, ev))
	}
	r.sessionID = 0
	if r.console != nil {
		logErr("console", r.console.SessionStopped(ev))
	}
}

func logErr(what string, err error) {
	if err != nil {
		monitoring.Logf("failed to write to %s: %v", what, err)
	}
}

// Close flushes and closes every sink and reports the entry count. It is safe
// to call more than once; later calls return the first result.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		var errs []error

		if err := r.data.Close(); err != nil {
			errs = append(errs, err)
		} else if r.console != nil {
			logErr("console", r.console.Saved("CSV file", r.data.Path()))
		}

		if r.summary != nil {
			if err := r.summary.Close(); err != nil {
				errs = append(errs, err)
			} else if r.console != nil {
				logErr("console", r.console.Saved("Distance summary", r.summary.Path()))
			}
		}

		if r.store != nil {
			if err := r.store.CompleteRun(r.runID, r.clock.Now()); err != nil {
				errs = append(errs, err)
			}
			if err := r.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close store: %w", err))
			}
		}

		if r.console != nil {
			logErr("console", r.console.Total(r.entries))
		}
		monitoring.Logf("run finished: %d entries logged, %d lines discarded", r.entries, r.rejected)
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
