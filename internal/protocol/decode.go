package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// FieldCount is the fixed number of comma-separated values in a data line.
const FieldCount = 10

// Delimiter separates the fields of header and data lines.
const Delimiter = ","

// Field indices of a data line. Indices 4-6 are passed through unlabeled.
const (
	FieldTimestamp = 0
	FieldYaw       = 1
	FieldPitch     = 2
	FieldRoll      = 3
	FieldPosX      = 7
	FieldPosY      = 8
	FieldPosZ      = 9
)

var (
	// ErrMalformedRecord is matched by every decode rejection.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrFieldCount is returned when a line does not have FieldCount fields.
	ErrFieldCount = fmt.Errorf("%w: wrong field count", ErrMalformedRecord)
	// ErrNotNumeric is returned when a field does not parse as a number.
	ErrNotNumeric = fmt.Errorf("%w: non-numeric field", ErrMalformedRecord)
)

// Record is one decoded data line.
type Record [FieldCount]float64

// Timestamp returns the device timestamp in milliseconds.
func (r Record) Timestamp() float64 { return r[FieldTimestamp] }

// Yaw returns the yaw angle as reported by the device.
func (r Record) Yaw() float64 { return r[FieldYaw] }

// Pitch returns the pitch angle as reported by the device.
func (r Record) Pitch() float64 { return r[FieldPitch] }

// Roll returns the roll angle as reported by the device.
func (r Record) Roll() float64 { return r[FieldRoll] }

// Reserved returns fields 4-6 verbatim. Their meaning is device-defined.
func (r Record) Reserved() [3]float64 { return [3]float64{r[4], r[5], r[6]} }

// Position returns the (pos_x, pos_y, pos_z) fields.
func (r Record) Position() r3.Vec {
	return r3.Vec{X: r[FieldPosX], Y: r[FieldPosY], Z: r[FieldPosZ]}
}

// Fields returns a copy of all values in line order.
func (r Record) Fields() []float64 {
	out := make([]float64, FieldCount)
	copy(out, r[:])
	return out
}

// Decode parses a data line. The whole line is rejected if it does not have
// exactly FieldCount fields or if any field is not a number.
func Decode(line string) (Record, error) {
	var rec Record

	parts := strings.Split(strings.TrimSpace(line), Delimiter)
	if len(parts) != FieldCount {
		return rec, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(parts), FieldCount)
	}

	for i, p := range parts {
		v, err := parseField(strings.TrimSpace(p))
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %d %q", ErrNotNumeric, i, p)
		}
		rec[i] = v
	}
	return rec, nil
}

// parseField parses one decimal field. Hexadecimal floats are not numbers on
// the wire even though ParseFloat accepts them.
func parseField(s string) (float64, error) {
	digits := s
	if strings.HasPrefix(digits, "+") || strings.HasPrefix(digits, "-") {
		digits = digits[1:]
	}
	if strings.HasPrefix(strings.ToLower(digits), "0x") {
		return 0, strconv.ErrSyntax
	}
	// Out-of-range values still count as numbers; ParseFloat returns ±Inf.
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, err
	}
	return v, nil
}
