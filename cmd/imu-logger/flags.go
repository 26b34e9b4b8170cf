package main

import (
	"flag"
	"time"

	"github.com/banshee-data/imu-logger/internal/config"
)

// summaryOff disables the distance summary when passed to -summary.
const summaryOff = "off"

// cliFlags holds the command line. Flags that are set override the matching
// config file value; unset flags leave it alone.
type cliFlags struct {
	fs *flag.FlagSet

	configFile  string
	port        string
	baud        int
	settle      time.Duration
	data        string
	summary     string
	db          string
	listen      string
	clear       bool
	quiet       bool
	debug       bool
	dev         string
	devInterval time.Duration
	version     bool
}

func newFlags(name string) *cliFlags {
	f := &cliFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	fs := f.fs
	fs.StringVar(&f.configFile, "config", "", "Path to a YAML config file")
	fs.StringVar(&f.port, "port", config.DefaultPort, "Serial port the IMU is attached to")
	fs.IntVar(&f.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&f.settle, "settle", config.DefaultSettleDelay, "Wait after opening the port before reading")
	fs.StringVar(&f.data, "data", config.DefaultDataFile, "CSV file for raw samples (truncated at start)")
	fs.StringVar(&f.summary, "summary", config.DefaultSummaryFile, `CSV file for per-session distances, or "off"`)
	fs.StringVar(&f.db, "db", "", "SQLite session store (empty disables)")
	fs.StringVar(&f.listen, "listen", "", "Debug HTTP listen address, e.g. localhost:8081 (empty disables)")
	fs.BoolVar(&f.clear, "clear", false, "Clear the terminal at every session start")
	fs.BoolVar(&f.quiet, "quiet", false, "Do not print the live view")
	fs.BoolVar(&f.debug, "debug", false, "Log discarded lines")
	fs.StringVar(&f.dev, "dev", "", "Replay lines from this fixture file instead of opening the port")
	fs.DurationVar(&f.devInterval, "dev-interval", 100*time.Millisecond, "Delay between replayed fixture lines")
	fs.BoolVar(&f.version, "version", false, "Print the version and exit")
	return f
}

func (f *cliFlags) Parse(args []string) error {
	return f.fs.Parse(args)
}

// Apply copies the explicitly set flags onto cfg.
func (f *cliFlags) Apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Serial.Port = &f.port
		case "baud":
			cfg.Serial.BaudRate = &f.baud
		case "settle":
			s := f.settle.String()
			cfg.Serial.SettleDelay = &s
		case "data":
			cfg.Output.DataFile = &f.data
		case "summary":
			enabled := f.summary != summaryOff
			cfg.Summary.Enabled = &enabled
			if enabled {
				cfg.Summary.File = &f.summary
			}
		case "db":
			cfg.Store.Path = &f.db
		case "listen":
			cfg.Debug.Listen = &f.listen
		case "clear":
			cfg.Console.Clear = &f.clear
		case "quiet":
			enabled := !f.quiet
			cfg.Console.Enabled = &enabled
		case "debug":
			cfg.Log.Debug = &f.debug
		}
	})
}
