package gpio

import (
	"context"
	"sync"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// fakeLine is an in-memory Line that records the physical operations made
// against it.
type fakeLine struct {
	mu         sync.Mutex
	level      Level
	setErr     error
	closeCount int
	edgeAsked  []Edge
}

func (l *fakeLine) Value() (Level, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level, nil
}

func (l *fakeLine) SetValue(level Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.setErr != nil {
		return l.setErr
	}
	l.level = level
	return nil
}

func (l *fakeLine) WaitForEdge(ctx context.Context, edge Edge) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edgeAsked = append(l.edgeAsked, edge)
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeCount++
	return nil
}

func (l *fakeLine) physical() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func TestPolarityTransform(t *testing.T) {
	test.That(t, ActiveHigh.level(High), test.ShouldEqual, High)
	test.That(t, ActiveHigh.level(Low), test.ShouldEqual, Low)
	test.That(t, ActiveLow.level(High), test.ShouldEqual, Low)
	test.That(t, ActiveLow.level(Low), test.ShouldEqual, High)

	// The transform is its own inverse, which is what lets one function
	// serve both read and write paths.
	for _, polarity := range []Polarity{ActiveHigh, ActiveLow} {
		for _, level := range []Level{Low, High} {
			test.That(t, polarity.level(polarity.level(level)), test.ShouldEqual, level)
		}
	}

	test.That(t, ActiveHigh.edge(Rising), test.ShouldEqual, Rising)
	test.That(t, ActiveHigh.edge(Falling), test.ShouldEqual, Falling)
	test.That(t, ActiveLow.edge(Rising), test.ShouldEqual, Falling)
	test.That(t, ActiveLow.edge(Falling), test.ShouldEqual, Rising)
	test.That(t, ActiveLow.edge(Both), test.ShouldEqual, Both)
}

func TestPinRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	// Writing a logical level on a looped-back line and reading it through
	// a pin of the same polarity must return the level unchanged.
	for _, polarity := range []Polarity{ActiveHigh, ActiveLow} {
		for _, level := range []Level{Low, High} {
			line := &fakeLine{}
			out, err := NewOutputPin(line, polarity, Low, logger)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, out.Write(ctx, level), test.ShouldBeNil)

			in := NewInputPin(line, polarity, logger)
			got, err := in.Read(ctx)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got, test.ShouldEqual, level)
		}
	}
}

func TestPinPhysicalMapping(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	line := &fakeLine{}
	out, err := NewOutputPin(line, ActiveLow, Low, logger)
	test.That(t, err, test.ShouldBeNil)

	// Deasserted on active-low wiring is physically high.
	test.That(t, line.physical(), test.ShouldEqual, High)

	test.That(t, out.Write(ctx, High), test.ShouldBeNil)
	test.That(t, line.physical(), test.ShouldEqual, Low)
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	line := &fakeLine{}
	out, err := NewOutputPin(line, ActiveHigh, Low, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, out.Toggle(ctx), test.ShouldBeNil)
	test.That(t, line.physical(), test.ShouldEqual, High)

	// An external driver changing the line must not change what Toggle
	// does next: it flips the last level this pin drove.
	line.mu.Lock()
	line.level = Low
	line.mu.Unlock()

	test.That(t, out.Toggle(ctx), test.ShouldBeNil)
	test.That(t, line.physical(), test.ShouldEqual, Low)
}

func TestWaitForEdgeInversion(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	line := &fakeLine{}
	in := NewInputPin(line, ActiveLow, logger)

	// A logical rising edge on an active-low pin is a physical falling one.
	test.That(t, in.WaitForEdge(ctx, Rising), test.ShouldBeNil)
	test.That(t, in.WaitForEdge(ctx, Falling), test.ShouldBeNil)
	test.That(t, in.WaitForEdge(ctx, Both), test.ShouldBeNil)
	test.That(t, line.edgeAsked, test.ShouldResemble, []Edge{Falling, Rising, Both})
}

func TestCloseReleasesOnce(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	line := &fakeLine{}
	out, err := NewOutputPin(line, ActiveHigh, Low, logger)
	test.That(t, err, test.ShouldBeNil)

	// Make the last operation fail, then close: the line must still be
	// released exactly once.
	line.mu.Lock()
	line.setErr = errors.New("device removed")
	line.mu.Unlock()
	test.That(t, out.Write(ctx, High), test.ShouldNotBeNil)

	test.That(t, out.Close(), test.ShouldBeNil)
	test.That(t, out.Close(), test.ShouldBeNil)
	test.That(t, line.closeCount, test.ShouldEqual, 1)

	test.That(t, out.Write(ctx, High), test.ShouldNotBeNil)
}

func TestSoftwarePWM(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	line := &fakeLine{}
	out, err := NewOutputPin(line, ActiveHigh, Low, logger)
	test.That(t, err, test.ShouldBeNil)

	// A duty cycle with no frequency doesn't start a loop.
	test.That(t, out.SetPWM(ctx, 0.5), test.ShouldBeNil)
	out.mu.Lock()
	test.That(t, out.pwmRunning, test.ShouldBeFalse)
	out.mu.Unlock()

	test.That(t, out.SetPWMFreq(ctx, 50), test.ShouldBeNil)
	out.mu.Lock()
	test.That(t, out.pwmRunning, test.ShouldBeTrue)
	out.mu.Unlock()

	duty, err := out.PWM(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, duty, test.ShouldEqual, 0.5)
	freq, err := out.PWMFreq(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, freq, test.ShouldEqual, 50)

	// Zero duty stops the loop and deasserts the pin.
	test.That(t, out.SetPWM(ctx, 0), test.ShouldBeNil)
	out.mu.Lock()
	test.That(t, out.pwmRunning, test.ShouldBeFalse)
	out.mu.Unlock()
	test.That(t, line.physical(), test.ShouldEqual, Low)

	// Close must stop everything and not hang waiting on the loop.
	test.That(t, out.SetPWM(ctx, 0.5), test.ShouldBeNil)
	test.That(t, out.Close(), test.ShouldBeNil)
	test.That(t, line.closeCount, test.ShouldEqual, 1)
}
