// Package gpio provides polarity-aware digital pins on top of the two Linux
// kernel GPIO interfaces: the legacy sysfs class and the gpiochip character
// device. Both backends expose the same raw Line contract, and all polarity
// correction happens in exactly one place (the pin layer), so drivers see
// identical behavior no matter which kernel mechanism is underneath.
package gpio

import (
	"context"

	"github.com/pkg/errors"
)

// Level is a digital line level. At the pin layer it is a logical level
// (High means asserted, even on active-low wiring); at the Line layer it is
// the physical level the kernel reports or drives.
type Level bool

// The two line levels.
const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Polarity describes how a pin is wired. It is fixed when a pin is
// constructed and cannot change afterwards.
type Polarity int

const (
	// ActiveHigh means the asserted state is the physical high level.
	ActiveHigh Polarity = iota
	// ActiveLow means the asserted state is the physical low level.
	ActiveLow
)

// level maps between logical and physical levels. The mapping is its own
// inverse, so the same function serves reads and writes. Every pin operation
// goes through here and nowhere else; backends never apply polarity
// themselves.
func (p Polarity) level(l Level) Level {
	if p == ActiveLow {
		return !l
	}
	return l
}

// edge maps a logical edge to the physical edge a backend must watch for.
// A logical rising edge on an active-low line is a physical falling one.
func (p Polarity) edge(e Edge) Edge {
	if p != ActiveLow {
		return e
	}
	switch e {
	case Rising:
		return Falling
	case Falling:
		return Rising
	default:
		return e
	}
}

// Direction configures a line as input or output when it is requested from
// the kernel. Changing direction means releasing the line and requesting a
// new one, mirroring the kernel's own line-request semantics.
type Direction int

const (
	// Input lines can be read and watched for edges.
	Input Direction = iota
	// Output lines can be driven.
	Output
)

// Edge selects which transitions an edge wait fires on.
type Edge int

const (
	// Rising fires on a low to high transition.
	Rising Edge = iota
	// Falling fires on a high to low transition.
	Falling
	// Both fires on any transition.
	Both
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "both"
	}
}

// ErrEdgeUnsupported is returned by WaitForEdge when the underlying line
// cannot deliver edge events at all (for example an output line). This is a
// capability limit of the backend, not a transient failure: retrying will
// never succeed.
var ErrEdgeUnsupported = errors.New("gpio: line does not support edge events")

// A Line is one raw kernel GPIO line. Implementations report and drive
// physical levels only; pins apply polarity on top. There are exactly two
// implementations, one per kernel mechanism: see OpenSysfsLine and
// OpenCdevLine.
//
// A Line must not be shared between pins. Close releases the kernel
// resource and must be safe to call on every exit path.
type Line interface {
	// Value returns the current physical level of the line.
	Value() (Level, error)

	// SetValue drives the physical level of the line. Only valid on lines
	// opened as Output.
	SetValue(level Level) error

	// WaitForEdge blocks until the line sees a physical transition matching
	// edge, or until ctx is done. Lines that cannot deliver events return
	// ErrEdgeUnsupported.
	WaitForEdge(ctx context.Context, edge Edge) error

	// Close releases the kernel line.
	Close() error
}
