package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenPort opens the serial port at path with the given options and applies
// the read timeout, so a quiet line never blocks a reader indefinitely.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux[serial.Port](port), nil
}

// RealSerialPortFactory opens hardware ports with go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for hardware ports.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open implements SerialPortFactory.
func (*RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return port, nil
}
