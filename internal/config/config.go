// Package config loads the logger configuration. Every field is optional:
// unset values fall back to the defaults returned by the Get methods, so a
// partial file (or none at all) is valid.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/imu-logger/internal/serialmux"
)

// Defaults for values that are not set in the file or on the command line.
const (
	DefaultPort        = "/dev/ttyUSB0"
	DefaultSettleDelay = 2 * time.Second
	DefaultDataFile    = "imu_data.csv"
	DefaultSummaryFile = "imu_distance_summary.csv"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root of the YAML configuration file.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Output  OutputConfig  `yaml:"output"`
	Summary SummaryConfig `yaml:"summary"`
	Store   StoreConfig   `yaml:"store"`
	Debug   DebugConfig   `yaml:"debug"`
	Console ConsoleConfig `yaml:"console"`
	Log     LogConfig     `yaml:"log"`
}

type SerialConfig struct {
	Port        *string `yaml:"port,omitempty"`
	BaudRate    *int    `yaml:"baud_rate,omitempty"`
	DataBits    *int    `yaml:"data_bits,omitempty"`
	StopBits    *int    `yaml:"stop_bits,omitempty"`
	Parity      *string `yaml:"parity,omitempty"`
	SettleDelay *string `yaml:"settle_delay,omitempty"` // duration string like "2s"
	ReadTimeout *string `yaml:"read_timeout,omitempty"` // duration string like "1s"
}

type OutputConfig struct {
	DataFile *string `yaml:"data_file,omitempty"`
}

type SummaryConfig struct {
	Enabled *bool   `yaml:"enabled,omitempty"`
	File    *string `yaml:"file,omitempty"`
}

// StoreConfig enables the SQLite session index when Path is set.
type StoreConfig struct {
	Path *string `yaml:"path,omitempty"`
}

// DebugConfig enables the debug HTTP server when Listen is set.
type DebugConfig struct {
	Listen *string `yaml:"listen,omitempty"`
}

type ConsoleConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	Clear   *bool `yaml:"clear,omitempty"`
}

type LogConfig struct {
	Debug *bool `yaml:"debug,omitempty"`
}

// LoadConfig reads and validates a YAML configuration file. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Serial.Port != nil && *c.Serial.Port == "" {
		return fmt.Errorf("serial.port must not be empty")
	}
	if err := validateDuration("serial.settle_delay", c.Serial.SettleDelay); err != nil {
		return err
	}
	if err := validateDuration("serial.read_timeout", c.Serial.ReadTimeout); err != nil {
		return err
	}
	if _, err := c.PortOptions().Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.Output.DataFile != nil && *c.Output.DataFile == "" {
		return fmt.Errorf("output.data_file must not be empty")
	}
	if c.GetSummaryEnabled() && c.GetSummaryFile() == "" {
		return fmt.Errorf("summary.file must not be empty when the summary is enabled")
	}
	if c.GetSummaryEnabled() && filepath.Clean(c.GetSummaryFile()) == filepath.Clean(c.GetDataFile()) {
		return fmt.Errorf("summary.file and output.data_file must differ, both are %q", c.GetDataFile())
	}
	return nil
}

func validateDuration(key string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", key, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", key, d)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPort returns the serial device path or the default.
func (c *Config) GetPort() string {
	if c.Serial.Port == nil {
		return DefaultPort
	}
	return *c.Serial.Port
}

// PortOptions returns the configured serial options. Unset values are left at
// zero for PortOptions.Normalize to fill in.
func (c *Config) PortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial.BaudRate != nil {
		opts.BaudRate = *c.Serial.BaudRate
	}
	if c.Serial.DataBits != nil {
		opts.DataBits = *c.Serial.DataBits
	}
	if c.Serial.StopBits != nil {
		opts.StopBits = *c.Serial.StopBits
	}
	if c.Serial.Parity != nil {
		opts.Parity = *c.Serial.Parity
	}
	opts.ReadTimeout = durationOr(c.Serial.ReadTimeout, 0)
	return opts
}

// GetSettleDelay returns how long to wait after opening the port.
func (c *Config) GetSettleDelay() time.Duration {
	return durationOr(c.Serial.SettleDelay, DefaultSettleDelay)
}

// GetDataFile returns the primary output path or the default.
func (c *Config) GetDataFile() string {
	if c.Output.DataFile == nil {
		return DefaultDataFile
	}
	return *c.Output.DataFile
}

// GetSummaryEnabled reports whether the distance summary file is written.
func (c *Config) GetSummaryEnabled() bool {
	if c.Summary.Enabled == nil {
		return true
	}
	return *c.Summary.Enabled
}

// GetSummaryFile returns the summary output path or the default.
func (c *Config) GetSummaryFile() string {
	if c.Summary.File == nil {
		return DefaultSummaryFile
	}
	return *c.Summary.File
}

// GetStorePath returns the SQLite path; empty disables the store.
func (c *Config) GetStorePath() string {
	if c.Store.Path == nil {
		return ""
	}
	return *c.Store.Path
}

// GetDebugListen returns the debug server address; empty disables it.
func (c *Config) GetDebugListen() string {
	if c.Debug.Listen == nil {
		return ""
	}
	return *c.Debug.Listen
}

// GetConsoleEnabled reports whether the live view is printed.
func (c *Config) GetConsoleEnabled() bool {
	if c.Console.Enabled == nil {
		return true
	}
	return *c.Console.Enabled
}

// GetConsoleClear reports whether the screen is cleared at session start.
func (c *Config) GetConsoleClear() bool {
	if c.Console.Clear == nil {
		return false
	}
	return *c.Console.Clear
}

// GetLogDebug reports whether debug logging is on.
func (c *Config) GetLogDebug() bool {
	if c.Log.Debug == nil {
		return false
	}
	return *c.Log.Debug
}
