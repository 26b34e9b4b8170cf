package sink

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/imu-logger/internal/protocol"
)

const (
	ruleWidth   = 70
	clearScreen = "\033[H\033[2J"
)

var (
	heavyRule = strings.Repeat("=", ruleWidth)
	lightRule = strings.Repeat("-", ruleWidth)
)

// Console renders the live view. Each call builds its output in memory and
// writes it with a single Write.
type Console struct {
	w           io.Writer
	clear       bool
	dataPath    string
	summaryPath string
}

// ConsoleOptions configures a Console.
type ConsoleOptions struct {
	// Clear clears the terminal at every session start.
	Clear bool
	// DataPath and SummaryPath are echoed in the banners. An empty
	// SummaryPath means the summary file is disabled.
	DataPath    string
	SummaryPath string
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer, opts ConsoleOptions) *Console {
	return &Console{
		w:           w,
		clear:       opts.Clear,
		dataPath:    opts.DataPath,
		summaryPath: opts.SummaryPath,
	}
}

func (c *Console) emit(buf *bytes.Buffer) error {
	_, err := c.w.Write(buf.Bytes())
	return err
}

// Ready prints the banner shown once the port and files are open.
func (c *Console) Ready(port string, baud int) error {
	var b bytes.Buffer
	title := " IMU DATA LOGGER"
	if c.summaryPath != "" {
		title += " WITH DISTANCE MEASUREMENT"
	}
	fmt.Fprintln(&b, heavyRule)
	fmt.Fprintln(&b, title)
	fmt.Fprintln(&b, heavyRule)
	fmt.Fprintf(&b, "Serial port %s open at %d baud\n", port, baud)
	fmt.Fprintf(&b, "Data file: %s\n", c.dataPath)
	if c.summaryPath != "" {
		fmt.Fprintf(&b, "Distance summary file: %s\n", c.summaryPath)
	}
	fmt.Fprintln(&b, heavyRule)
	writeWaiting(&b)
	return c.emit(&b)
}

func writeWaiting(b *bytes.Buffer) {
	fmt.Fprintln(b)
	fmt.Fprintln(b, "WAITING FOR BUTTON PRESS ON DEVICE...")
	fmt.Fprintln(b)
}

// SessionStarted prints the session banner and the table heading.
func (c *Console) SessionStarted(ev protocol.SessionStarted) error {
	var b bytes.Buffer
	if c.clear {
		b.WriteString(clearScreen)
	}
	fmt.Fprintln(&b, heavyRule)
	fmt.Fprintf(&b, " LOGGING SESSION #%d\n", ev.Seq)
	fmt.Fprintln(&b, heavyRule)
	fmt.Fprintf(&b, "Started: %s\n", ev.Start.Local().Format("15:04:05"))
	fmt.Fprintf(&b, "Saving to: %s\n", c.dataPath)
	fmt.Fprintln(&b, lightRule)
	fmt.Fprintf(&b, "%-8s %-12s %-8s %-8s %-8s %-10s %-10s %-10s\n",
		"Entry", "Time(ms)", "Yaw", "Pitch", "Roll", "Pos X", "Pos Y", "Pos Z")
	fmt.Fprintln(&b, lightRule)
	return c.emit(&b)
}

// Record prints one table row.
func (c *Console) Record(ev protocol.RecordAccepted) error {
	var b bytes.Buffer
	r := ev.Record
	pos := r.Position()
	fmt.Fprintf(&b, "%-8d %-12.0f %-8.2f %-8.2f %-8.2f %-10.3f %-10.3f %-10.3f\n",
		ev.Index, r.Timestamp(), r.Yaw(), r.Pitch(), r.Roll(), pos.X, pos.Y, pos.Z)
	return c.emit(&b)
}

// SessionStopped prints the stop banner with the displacement block.
func (c *Console) SessionStopped(ev protocol.SessionStopped) error {
	var b bytes.Buffer
	d := ev.Distance.Displacement
	fmt.Fprintln(&b, lightRule)
	fmt.Fprintln(&b, "LOGGING STOPPED")
	fmt.Fprintf(&b, "Duration: %s seconds\n", humanize.FtoaWithDigits(ev.DurationSeconds(), 1))
	fmt.Fprintf(&b, "Samples: %s\n", humanize.Comma(int64(ev.Samples)))
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "DISTANCE MOVED:")
	fmt.Fprintf(&b, "  X-axis: %10.3f m\n", d.X)
	fmt.Fprintf(&b, "  Y-axis: %10.3f m\n", d.Y)
	fmt.Fprintf(&b, "  Z-axis: %10.3f m\n", d.Z)
	fmt.Fprintf(&b, "  Total:  %10.3f m\n", ev.Distance.Total)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Data saved to: %s\n", c.dataPath)
	if c.summaryPath != "" {
		fmt.Fprintf(&b, "Distance summary saved to: %s\n", c.summaryPath)
	}
	fmt.Fprintln(&b, heavyRule)
	writeWaiting(&b)
	return c.emit(&b)
}

// Interrupted prints the banner shown when the user stops the program.
func (c *Console) Interrupted() error {
	var b bytes.Buffer
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, heavyRule)
	fmt.Fprintln(&b, " LOGGING INTERRUPTED BY USER")
	fmt.Fprintln(&b, heavyRule)
	return c.emit(&b)
}

// Saved reports a closed output file.
func (c *Console) Saved(what, path string) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s saved: %s\n", what, path)
	return c.emit(&b)
}

// Total prints the final entry count.
func (c *Console) Total(entries uint64) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Total entries logged: %s\n", humanize.Comma(int64(entries)))
	return c.emit(&b)
}
