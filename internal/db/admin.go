package db

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/imu-logger/internal/httputil"
)

// AttachAdminRoutes mounts the store's pages under /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "IMU sessions",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("sessions", "Displacement per logged session", http.HandlerFunc(db.handleSessionsChart))
	debug.Handle("sessions.json", "Stored sessions as JSON", http.HandlerFunc(db.handleSessionsJSON))
	debug.HandleSilent("trajectory", http.HandlerFunc(db.handleTrajectory))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	return nil
}

// handleSessionsChart renders a bar chart of the total displacement of every
// completed session. ?run= limits it to one run.
func (db *DB) handleSessionsChart(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	sessions, err := db.Sessions(runID)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}

	x := make([]string, 0, len(sessions))
	total := make([]opts.BarData, 0, len(sessions))
	samples := make([]opts.BarData, 0, len(sessions))
	for _, s := range sessions {
		if !s.Completed() {
			continue
		}
		x = append(x, fmt.Sprintf("#%d (%d)", s.Seq, s.ID))
		total = append(total, opts.BarData{Value: s.Total})
		samples = append(samples, opts.BarData{Value: s.Samples})
	}

	subtitle := "all runs"
	if runID != "" {
		subtitle = "run " + runID
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "IMU Sessions", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Displacement per session", Subtitle: fmt.Sprintf("%s, %d sessions", subtitle, len(x))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Total (m)"}),
	)
	bar.SetXAxis(x).
		AddSeries("total_distance_m", total,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("num_samples", samples)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTrajectory renders the x/y path of ?session= as a PNG.
func (db *DB) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.QueryInt64(r, "session")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	session, err := db.Session(id)
	if errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	samples, err := db.SessionSamples(id)
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	if len(samples) == 0 {
		httputil.NotFound(w, fmt.Sprintf("session %d has no samples", id))
		return
	}

	var buf bytes.Buffer
	if err := plotTrajectory(&buf, *session, samples); err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// sessionJSON is the sessions.json view of a Session.
type sessionJSON struct {
	ID          int64      `json:"session_id"`
	RunID       string     `json:"run_id"`
	Seq         int        `json:"session_number"`
	StartedAt   time.Time  `json:"start_time"`
	EndedAt     *time.Time `json:"end_time,omitempty"`
	Header      []string   `json:"header,omitempty"`
	Samples     int        `json:"num_samples"`
	DurationSec float64    `json:"duration_sec"`
	DistanceX   float64    `json:"distance_x_m"`
	DistanceY   float64    `json:"distance_y_m"`
	DistanceZ   float64    `json:"distance_z_m"`
	Total       float64    `json:"total_distance_m"`
}

// handleSessionsJSON lists stored sessions, optionally for one ?run=.
func (db *DB) handleSessionsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	sessions, err := db.Sessions(r.URL.Query().Get("run"))
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	out := make([]sessionJSON, len(sessions))
	for i, s := range sessions {
		out[i] = sessionJSON{
			ID:          s.ID,
			RunID:       s.RunID,
			Seq:         s.Seq,
			StartedAt:   s.StartedAt,
			EndedAt:     s.EndedAt,
			Header:      s.Header,
			Samples:     s.Samples,
			DurationSec: s.DurationSec,
			DistanceX:   s.Displacement.X,
			DistanceY:   s.Displacement.Y,
			DistanceZ:   s.Displacement.Z,
			Total:       s.Total,
		}
	}
	httputil.WriteJSONOK(w, out)
}

func plotTrajectory(w io.Writer, session Session, samples []Sample) error {
	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pos := s.Record.Position()
		pts[i] = plotter.XY{X: pos.X, Y: pos.Y}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session #%d trajectory (%d samples)", session.Seq, len(samples))
	p.X.Label.Text = "Pos X (m)"
	p.Y.Label.Text = "Pos Y (m)"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create trajectory line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)

	start, err := plotter.NewScatter(pts[:1])
	if err != nil {
		return fmt.Errorf("failed to create start marker: %w", err)
	}
	start.GlyphStyle.Radius = vg.Points(3)
	p.Add(start)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// handleBackup streams a gzip-compressed copy of the database made with
// VACUUM INTO.
func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "imu-logger-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		log.Printf("Failed to write backup file: %v", err)
	}
}
