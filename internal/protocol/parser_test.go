package protocol

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/imu-logger/internal/timeutil"
)

const testHeader = "unixtime_ms,yaw,pitch,roll,a,b,c,x,y,z"

var testEpoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestParser() (*Parser, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(testEpoch)
	return NewParser(clock), clock
}

// feed sends lines that are expected to be accepted and returns all events.
func feed(t *testing.T, p *Parser, lines ...string) []Event {
	t.Helper()
	var events []Event
	for _, line := range lines {
		evs, err := p.HandleLine(line)
		require.NoError(t, err, "line %q", line)
		events = append(events, evs...)
	}
	return events
}

func TestParser_InitialState(t *testing.T) {
	p, _ := newTestParser()
	assert.Equal(t, StateIdle, p.State())
	assert.Zero(t, p.Seq())
	assert.Equal(t, Session{}, p.Session())
}

func TestParser_NonMarkerLinesIgnoredOutsideLogging(t *testing.T) {
	lines := []string{
		"100,1.0,2.0,3.0,0,0,0,0.0,0.0,0.0",
		"garbage",
		"ESP32 boot ok",
		"",
		"   ",
	}

	for _, setup := range []struct {
		name  string
		lines []string
		state State
	}{
		{name: "idle", state: StateIdle},
		{name: "awaiting header", lines: []string{MarkerStart}, state: StateAwaitingHeader},
	} {
		t.Run(setup.name, func(t *testing.T) {
			p, _ := newTestParser()
			feed(t, p, setup.lines...)
			before := p.Session()

			for _, line := range lines {
				events, err := p.HandleLine(line)
				assert.NoError(t, err)
				assert.Empty(t, events, "line %q", line)
			}
			assert.Equal(t, setup.state, p.State())
			assert.Equal(t, before, p.Session())
		})
	}
}

func TestParser_StartMarker(t *testing.T) {
	p, _ := newTestParser()

	events := feed(t, p, "  >> LOGGING STARTED <<  ")
	require.Len(t, events, 1)
	assert.Equal(t, SessionStarted{Seq: 1, Start: testEpoch}, events[0])
	assert.Equal(t, StateAwaitingHeader, p.State())
	assert.Equal(t, Session{Seq: 1, Start: testEpoch}, p.Session())
}

func TestParser_HeaderCapturedOnce(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart)

	events := feed(t, p, testHeader)
	require.Len(t, events, 1)
	want := HeaderCaptured{Seq: 1, Columns: []string{"unixtime_ms", "yaw", "pitch", "roll", "a", "b", "c", "x", "y", "z"}}
	if diff := cmp.Diff(want, events[0]); diff != "" {
		t.Errorf("HeaderCaptured mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateLogging, p.State())

	// second header line is a no-op
	events = feed(t, p, "unixtime_ms,other,columns")
	assert.Empty(t, events)
	assert.Equal(t, StateLogging, p.State())
	assert.Equal(t, want.Columns, p.Session().Header)
}

func TestParser_HeaderContainedInLine(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart)

	events := feed(t, p, "# unixtime_ms,yaw")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"# unixtime_ms", "yaw"}, events[0].(HeaderCaptured).Columns)
}

func TestParser_HeaderIgnoredWhenIdle(t *testing.T) {
	p, _ := newTestParser()

	events := feed(t, p, testHeader)
	assert.Empty(t, events)
	assert.Equal(t, StateIdle, p.State())
	assert.Nil(t, p.Session().Header)
}

func TestParser_HeaderNotValidatedAgainstArity(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart, "unixtime_ms,yaw")

	events := feed(t, p, "1,2,3,4,5,6,7,8,9,10")
	require.Len(t, events, 1)
	assert.IsType(t, RecordAccepted{}, events[0])
}

func TestParser_DataLinesRequireHeader(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart)

	events := feed(t, p, "1,2,3,4,5,6,7,8,9,10")
	assert.Empty(t, events)
	assert.Zero(t, p.Session().Samples)
}

func TestParser_WellFormedRecordsIncrementCount(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart, testHeader)

	for i := 1; i <= 25; i++ {
		line := fmt.Sprintf("%d,%d.5,-%d,0.25,0,1,2,%d,%d,%d", i*10, i, i, i, 2*i, 3*i)
		events := feed(t, p, line)
		require.Len(t, events, 1)

		got, ok := events[0].(RecordAccepted)
		require.True(t, ok)
		want := RecordAccepted{
			Seq:    1,
			Index:  i,
			Record: Record{float64(i * 10), float64(i) + 0.5, -float64(i), 0.25, 0, 1, 2, float64(i), float64(2 * i), float64(3 * i)},
		}
		assert.Equal(t, want, got)
		assert.Equal(t, i, p.Session().Samples)
	}
}

func TestParser_RejectedLinesLeaveCountUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{name: "nine tokens", line: "100,1.0,2.0,3.0,0,0,0,0.0,0.0", wantErr: ErrFieldCount},
		{name: "eleven tokens", line: "1,2,3,4,5,6,7,8,9,10,11", wantErr: ErrFieldCount},
		{name: "single token", line: "hello", wantErr: ErrFieldCount},
		{name: "non-numeric token", line: "abc,1,2,3,4,5,6,7,8,9", wantErr: ErrNotNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestParser()
			feed(t, p, MarkerStart, testHeader, "1,2,3,4,5,6,7,8,9,10")
			before := p.Session()

			for i := 0; i < 3; i++ {
				events, err := p.HandleLine(tt.line)
				assert.Nil(t, events)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrMalformedRecord)
			}
			assert.Equal(t, before, p.Session())
			assert.Equal(t, StateLogging, p.State())
			assert.Equal(t, 1, p.Distance().Samples)
		})
	}
}

func TestParser_SeqIncrementsOnEveryStart(t *testing.T) {
	p, clock := newTestParser()

	feed(t, p, MarkerStart, testHeader, "1,2,3,4,5,6,7,8,9,10")
	assert.Equal(t, 1, p.Seq())

	// restart without a stop discards the open session
	clock.Advance(time.Minute)
	events := feed(t, p, MarkerStart)
	require.Len(t, events, 1)
	assert.Equal(t, SessionStarted{Seq: 2, Start: testEpoch.Add(time.Minute)}, events[0])
	assert.Equal(t, StateAwaitingHeader, p.State())
	assert.Zero(t, p.Session().Samples)
	assert.Nil(t, p.Session().Header)
	assert.Zero(t, p.Distance().Samples)

	feed(t, p, MarkerStop, MarkerStart)
	assert.Equal(t, 3, p.Seq())
}

func TestParser_StopClosesSession(t *testing.T) {
	p, clock := newTestParser()
	feed(t, p, MarkerStart, testHeader, "1,2,3,4,5,6,7,8,9,10")

	clock.Advance(12500 * time.Millisecond)
	events := feed(t, p, "LOGGING STOPPED")
	require.Len(t, events, 1)

	stopped, ok := events[0].(SessionStopped)
	require.True(t, ok)
	assert.True(t, stopped.Started())
	assert.Equal(t, 1, stopped.Seq)
	assert.Equal(t, testEpoch, stopped.Start)
	assert.Equal(t, testEpoch.Add(12500*time.Millisecond), stopped.End)
	assert.Equal(t, 12500*time.Millisecond, stopped.Duration)
	assert.InDelta(t, 12.5, stopped.DurationSeconds(), 1e-9)
	assert.Equal(t, 1, stopped.Samples)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, stopped.End, p.Session().End)

	// data after stop is ignored
	events = feed(t, p, "1,2,3,4,5,6,7,8,9,10")
	assert.Empty(t, events)
}

func TestParser_StopWhileAwaitingHeader(t *testing.T) {
	p, clock := newTestParser()
	feed(t, p, MarkerStart)
	clock.Advance(time.Second)

	events := feed(t, p, MarkerStop)
	require.Len(t, events, 1)
	stopped := events[0].(SessionStopped)
	assert.True(t, stopped.Started())
	assert.Equal(t, time.Second, stopped.Duration)
	assert.Zero(t, stopped.Samples)
	assert.Equal(t, StateIdle, p.State())
}

func TestParser_MarkerOrder(t *testing.T) {
	p, _ := newTestParser()

	// a line holding both start and stop markers is a start
	events := feed(t, p, "LOGGING STARTED / LOGGING STOPPED")
	require.Len(t, events, 1)
	assert.IsType(t, SessionStarted{}, events[0])

	// a header line mentioning the stop marker is a header
	events = feed(t, p, "unixtime_ms,LOGGING STOPPED")
	require.Len(t, events, 1)
	assert.IsType(t, HeaderCaptured{}, events[0])
	assert.Equal(t, StateLogging, p.State())
}

// Scenario A from the protocol description.
func TestParser_ScenarioA(t *testing.T) {
	p, clock := newTestParser()

	var records []RecordAccepted
	var stopped *SessionStopped
	for _, line := range []string{
		"LOGGING STARTED",
		"unixtime_ms,yaw,pitch,roll,a,b,c,x,y,z",
		"100,1.0,2.0,3.0,0,0,0,0.0,0.0,0.0",
		"200,1.1,2.1,3.1,0,0,0,1.0,2.0,2.0",
		"LOGGING STOPPED",
	} {
		clock.Advance(100 * time.Millisecond)
		events, err := p.HandleLine(line)
		require.NoError(t, err)
		for _, ev := range events {
			switch ev := ev.(type) {
			case RecordAccepted:
				records = append(records, ev)
			case SessionStopped:
				stopped = &ev
			}
		}
	}

	require.Len(t, records, 2)
	require.NotNil(t, stopped)
	assert.Equal(t, 2, stopped.Samples)
	assert.Equal(t, 2, stopped.Distance.Samples)
	assert.Equal(t, r3.Vec{}, stopped.Distance.Start)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 2}, stopped.Distance.End)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 2}, stopped.Distance.Displacement)
	assert.InDelta(t, 3.0, stopped.Distance.Total, 1e-9)
	assert.Equal(t, 400*time.Millisecond, stopped.Duration)
}

// Scenario B: a stop marker with no session open.
func TestParser_ScenarioB_StopWithoutStart(t *testing.T) {
	p, _ := newTestParser()

	var events []Event
	require.NotPanics(t, func() {
		events = feed(t, p, "LOGGING STOPPED")
	})
	require.Len(t, events, 1)

	stopped, ok := events[0].(SessionStopped)
	require.True(t, ok)
	assert.False(t, stopped.Started())
	assert.Zero(t, stopped.Duration)
	assert.Zero(t, stopped.Samples)
	assert.Zero(t, stopped.Seq)
	assert.Equal(t, testEpoch, stopped.End)
	assert.Equal(t, StateIdle, p.State())
}

func TestParser_RepeatedStop(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart, testHeader, "1,2,3,4,5,6,7,8,9,10", MarkerStop)
	last := p.Session()

	events := feed(t, p, MarkerStop)
	require.Len(t, events, 1)
	stopped := events[0].(SessionStopped)
	assert.False(t, stopped.Started())
	assert.Equal(t, 1, stopped.Seq)
	assert.Zero(t, stopped.Samples)
	assert.Equal(t, last, p.Session())
}

// Scenario C: a short data line while logging.
func TestParser_ScenarioC_ShortLine(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart, testHeader)

	events, err := p.HandleLine("100,1.0,2.0,3.0,0,0,0,0.0,0.0")
	assert.Empty(t, events)
	assert.True(t, errors.Is(err, ErrFieldCount))
	assert.Zero(t, p.Session().Samples)
}

// Scenario D: a non-numeric token discards the whole line.
func TestParser_ScenarioD_NonNumeric(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart, testHeader)

	events, err := p.HandleLine("abc,1,2,3,4,5,6,7,8,9")
	assert.Empty(t, events)
	assert.True(t, errors.Is(err, ErrNotNumeric))
	assert.Zero(t, p.Session().Samples)
	assert.Zero(t, p.Distance().Samples)
}

func TestParser_SessionReturnsCopy(t *testing.T) {
	p, _ := newTestParser()
	feed(t, p, MarkerStart, testHeader)

	s := p.Session()
	s.Header[0] = "mutated"
	assert.Equal(t, "unixtime_ms", p.Session().Header[0])
}

func TestParser_NilClockUsesWallClock(t *testing.T) {
	p := NewParser(nil)
	before := time.Now()
	events := feed(t, p, MarkerStart)
	require.Len(t, events, 1)
	start := events[0].(SessionStarted).Start
	assert.False(t, start.Before(before))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting_header", StateAwaitingHeader.String())
	assert.Equal(t, "logging", StateLogging.String())
	assert.Equal(t, "unknown", State(42).String())
}
