package serialmux

import (
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/imu-logger/internal/timeutil"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// BufferResetter is implemented by ports that can discard pending bytes.
// go.bug.st/serial ports implement it.
type BufferResetter interface {
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// SerialPortFactory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// Settle waits for the device to finish its reset after the port is opened
// and then drops anything it sent in the meantime, so the first line handed
// to a reader starts on a line boundary of fresh output.
func Settle(port SerialPorter, delay time.Duration, clock timeutil.Clock) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if delay > 0 {
		clock.Sleep(delay)
	}

	r, ok := port.(BufferResetter)
	if !ok {
		return nil
	}
	if err := r.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush input buffer: %w", err)
	}
	if err := r.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("failed to flush output buffer: %w", err)
	}
	return nil
}
