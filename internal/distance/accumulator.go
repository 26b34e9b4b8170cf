// Package distance tracks the displacement of the logger between the first and
// the latest position sample of a session.
package distance

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Summary is the displacement derived when a session ends. Values are kept at
// full precision; rounding is left to whoever presents them.
type Summary struct {
	Start        r3.Vec
	End          r3.Vec
	Displacement r3.Vec
	Total        float64
	Samples      int
}

// Accumulator latches the first observed position after a reset and keeps
// overwriting the current position. The zero value is ready to use and
// equivalent to a freshly reset accumulator: both positions sit at the origin.
type Accumulator struct {
	start   r3.Vec
	current r3.Vec
	samples int
}

// Reset clears both positions back to the origin and the sample count to 0.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// Observe records one position sample.
func (a *Accumulator) Observe(pos r3.Vec) {
	a.samples++
	if a.samples == 1 {
		a.start = pos
	}
	a.current = pos
}

// Samples returns the number of positions observed since the last reset.
func (a *Accumulator) Samples() int { return a.samples }

// Start returns the first observed position, or the origin if none.
func (a *Accumulator) Start() r3.Vec { return a.start }

// Current returns the latest observed position, or the origin if none.
func (a *Accumulator) Current() r3.Vec { return a.current }

// Finalize derives the per-axis and total displacement. It does not reset the
// accumulator.
func (a *Accumulator) Finalize() Summary {
	d := r3.Sub(a.current, a.start)
	return Summary{
		Start:        a.start,
		End:          a.current,
		Displacement: d,
		Total:        r3.Norm(d),
		Samples:      a.samples,
	}
}
