package main

import (
	"testing"
	"time"

	"github.com/banshee-data/imu-logger/internal/config"
)

func TestFlagDefaults(t *testing.T) {
	f := newFlags("test")
	if err := f.Parse(nil); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.port != config.DefaultPort {
		t.Errorf("port default = %q, want %q", f.port, config.DefaultPort)
	}
	if f.baud != 115200 {
		t.Errorf("baud default = %d, want 115200", f.baud)
	}
	if f.devInterval != 100*time.Millisecond {
		t.Errorf("dev-interval default = %v", f.devInterval)
	}

	// Unset flags must not override the config file.
	port := "/dev/ttyACM0"
	cfg := &config.Config{Serial: config.SerialConfig{Port: &port}}
	f.Apply(cfg)
	if cfg.GetPort() != port {
		t.Errorf("GetPort() = %q, want config value %q", cfg.GetPort(), port)
	}
	if !cfg.GetSummaryEnabled() || !cfg.GetConsoleEnabled() {
		t.Error("defaults should keep the summary and console on")
	}
}

func TestFlagOverrides(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "serial",
			args: []string{"-port", "COM3", "-baud", "9600", "-settle", "500ms"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.GetPort() != "COM3" || cfg.PortOptions().BaudRate != 9600 {
					t.Errorf("port=%q baud=%d", cfg.GetPort(), cfg.PortOptions().BaudRate)
				}
				if cfg.GetSettleDelay() != 500*time.Millisecond {
					t.Errorf("GetSettleDelay() = %v", cfg.GetSettleDelay())
				}
			},
		},
		{
			name: "summary off",
			args: []string{"-summary", "off"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.GetSummaryEnabled() {
					t.Error("summary should be disabled")
				}
			},
		},
		{
			name: "outputs",
			args: []string{"-data", "run.csv", "-summary", "dist.csv", "-db", "s.db", "-listen", "localhost:8081"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.GetDataFile() != "run.csv" || cfg.GetSummaryFile() != "dist.csv" {
					t.Errorf("data=%q summary=%q", cfg.GetDataFile(), cfg.GetSummaryFile())
				}
				if cfg.GetStorePath() != "s.db" || cfg.GetDebugListen() != "localhost:8081" {
					t.Errorf("store=%q listen=%q", cfg.GetStorePath(), cfg.GetDebugListen())
				}
			},
		},
		{
			name: "console",
			args: []string{"-quiet", "-clear", "-debug"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.GetConsoleEnabled() || !cfg.GetConsoleClear() || !cfg.GetLogDebug() {
					t.Error("console/log flags not applied")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlags("test")
			if err := f.Parse(tt.args); err != nil {
				t.Fatalf("Parse(%v) error = %v", tt.args, err)
			}
			cfg := &config.Config{}
			f.Apply(cfg)
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}
