// Package db is the optional SQLite index of logged sessions. The CSV files
// stay the primary output; the store makes runs browsable from the debug
// routes.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/imu-logger/internal/protocol"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the database at path without touching its schema.
func OpenDB(path string) (*DB, error) {
	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// NewDB opens the database at path and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(nil); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// Run is one execution of the logger.
type Run struct {
	ID        string
	Port      string
	BaudRate  int
	Version   string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Session is a stored logging session. The distance fields are set once the
// session is completed.
type Session struct {
	ID           int64
	RunID        string
	Seq          int
	StartedAt    time.Time
	EndedAt      *time.Time
	Header       []string
	Samples      int
	DurationSec  float64
	Displacement r3.Vec
	Total        float64
}

// Completed reports whether a stop marker closed the session.
func (s Session) Completed() bool { return s.EndedAt != nil }

// Sample is one stored data record.
type Sample struct {
	SessionID int64
	Index     int
	Record    protocol.Record
}

func unixMilli(t time.Time) int64 { return t.UnixMilli() }

func nullableTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}

// CreateRun inserts run, assigning a new ID when it has none.
func (db *DB) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, port, baud_rate, version, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Port, run.BaudRate, run.Version, unixMilli(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun records when a run ended.
func (db *DB) CompleteRun(runID string, end time.Time) error {
	res, err := db.Exec(`UPDATE runs SET ended_at = ? WHERE run_id = ?`, unixMilli(end), runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return expectOne(res, "run", runID)
}

// Run returns the run with the given ID.
func (db *DB) Run(runID string) (*Run, error) {
	var (
		run     Run
		started int64
		ended   sql.NullInt64
	)
	err := db.QueryRow(
		`SELECT run_id, port, baud_rate, version, started_at, ended_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&run.ID, &run.Port, &run.BaudRate, &run.Version, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.StartedAt = time.UnixMilli(started)
	run.EndedAt = nullableTime(ended)
	return &run, nil
}

// CreateSession inserts an open session and sets s.ID.
func (db *DB) CreateSession(s *Session) error {
	res, err := db.Exec(
		`INSERT INTO sessions (run_id, seq, started_at, header) VALUES (?, ?, ?, ?)`,
		s.RunID, s.Seq, unixMilli(s.StartedAt), strings.Join(s.Header, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}
	s.ID = id
	return nil
}

// SetSessionHeader stores the header columns captured for a session.
func (db *DB) SetSessionHeader(sessionID int64, columns []string) error {
	res, err := db.Exec(`UPDATE sessions SET header = ? WHERE session_id = ?`, strings.Join(columns, ","), sessionID)
	if err != nil {
		return fmt.Errorf("failed to set session header: %w", err)
	}
	return expectOne(res, "session", sessionID)
}

// RecordSample stores one accepted record of a session.
func (db *DB) RecordSample(sessionID int64, index int, rec protocol.Record) error {
	_, err := db.Exec(
		`INSERT INTO samples (
			session_id, sample_index, unixtime_ms, yaw, pitch, roll, r4, r5, r6, pos_x, pos_y, pos_z
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, index,
		rec[0], rec[1], rec[2], rec[3], rec[4], rec[5], rec[6], rec[7], rec[8], rec[9],
	)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	return nil
}

// CompleteSession stores the summary of a stopped session.
func (db *DB) CompleteSession(sessionID int64, ev protocol.SessionStopped) error {
	d := ev.Distance.Displacement
	res, err := db.Exec(
		`UPDATE sessions SET
			ended_at = ?, num_samples = ?, duration_sec = ?,
			distance_x = ?, distance_y = ?, distance_z = ?, total_distance = ?
		WHERE session_id = ?`,
		unixMilli(ev.End), ev.Samples, ev.DurationSeconds(),
		d.X, d.Y, d.Z, ev.Distance.Total,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return expectOne(res, "session", sessionID)
}

const sessionColumns = `session_id, run_id, seq, started_at, ended_at, header, num_samples,
	duration_sec, distance_x, distance_y, distance_z, total_distance`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
		header  string
	)
	err := row.Scan(&s.ID, &s.RunID, &s.Seq, &started, &ended, &header, &s.Samples,
		&s.DurationSec, &s.Displacement.X, &s.Displacement.Y, &s.Displacement.Z, &s.Total)
	if err != nil {
		return s, err
	}
	s.StartedAt = time.UnixMilli(started)
	s.EndedAt = nullableTime(ended)
	if header != "" {
		s.Header = strings.Split(header, ",")
	}
	return s, nil
}

// Sessions returns the sessions of a run in start order. An empty runID
// returns the sessions of every run.
func (db *DB) Sessions(runID string) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY session_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Session returns one session by ID.
func (db *DB) Session(sessionID int64) (*Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &s, nil
}

// SessionSamples returns the stored records of a session in arrival order.
func (db *DB) SessionSamples(sessionID int64) ([]Sample, error) {
	rows, err := db.Query(
		`SELECT session_id, sample_index, unixtime_ms, yaw, pitch, roll, r4, r5, r6, pos_x, pos_y, pos_z
		FROM samples WHERE session_id = ? ORDER BY sample_index`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		r := &s.Record
		if err := rows.Scan(&s.SessionID, &s.Index,
			&r[0], &r[1], &r[2], &r[3], &r[4], &r[5], &r[6], &r[7], &r[8], &r[9]); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func expectOne(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
	}
	return nil
}
