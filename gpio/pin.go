package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// pin holds the state shared by input and output pins. Polarity is immutable
// after construction. The mutex guards the mutable fields; blocking edge
// waits deliberately run outside it so Close stays reachable.
type pin struct {
	line     Line
	polarity Polarity
	logger   golog.Logger

	mu     sync.Mutex
	closed bool
}

func (p *pin) readLevel() (Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Low, errors.New("pin is closed")
	}
	physical, err := p.line.Value()
	if err != nil {
		return Low, err
	}
	return p.polarity.level(physical), nil
}

// closeLine releases the kernel line exactly once. Later calls are no-ops so
// callers can close unconditionally on error paths.
func (p *pin) closeLine() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.line.Close()
}

// An InputPin is a logical digital input. It owns its Line exclusively;
// sharing the underlying kernel resource between pins is not arbitrated here
// and is a caller-level hazard.
type InputPin struct {
	pin
}

// NewInputPin wraps a Line opened as Input. The polarity describes the
// wiring and cannot change for the life of the pin.
func NewInputPin(line Line, polarity Polarity, logger golog.Logger) *InputPin {
	return &InputPin{pin{line: line, polarity: polarity, logger: logger}}
}

// Read returns the logical level of the pin: High when the line is asserted
// given its polarity.
func (p *InputPin) Read(ctx context.Context) (Level, error) {
	return p.readLevel()
}

// WaitForEdge blocks until the pin sees a transition matching edge, where
// edge is expressed in logical terms: Rising on an active-low pin fires on a
// physical high-to-low transition. The wait is unbounded; bound it through
// ctx. Backends without event support return ErrEdgeUnsupported, which is
// not retryable.
func (p *InputPin) WaitForEdge(ctx context.Context, edge Edge) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("pin is closed")
	}
	line := p.line
	physicalEdge := p.polarity.edge(edge)
	p.mu.Unlock()

	return line.WaitForEdge(ctx, physicalEdge)
}

// Close releases the underlying kernel line. Safe to call more than once.
func (p *InputPin) Close() error {
	return p.closeLine()
}

// An OutputPin is a logical digital output. Like InputPin it owns its Line
// exclusively. It remembers the last level it drove so Toggle never races
// against other drivers of the same physical line.
type OutputPin struct {
	pin

	// last is the last logical level this pin drove. Seeded by the initial
	// level at construction, so toggling is well defined from the start.
	last Level

	pwmRunning      bool
	pwmFreqHz       uint
	pwmDutyCyclePct float64

	cancelCtx  context.Context
	cancelFunc func()
	waitGroup  sync.WaitGroup
}

// NewOutputPin wraps a Line opened as Output and drives it to the given
// initial logical level before returning. The initial level also seeds the
// state Toggle flips from. The line is closed again if the initial write
// fails.
func NewOutputPin(line Line, polarity Polarity, initial Level, logger golog.Logger) (*OutputPin, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	p := &OutputPin{
		pin:        pin{line: line, polarity: polarity, logger: logger},
		last:       initial,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	if err := line.SetValue(polarity.level(initial)); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "driving initial level"), p.Close())
	}
	return p, nil
}

// setInternal drives a logical level without touching the PWM state. The
// mutex must be held.
func (p *OutputPin) setInternal(level Level) error {
	if err := p.line.SetValue(p.polarity.level(level)); err != nil {
		return err
	}
	p.last = level
	return nil
}

// Write drives the pin to the given logical level. Any running software PWM
// loop is stopped first.
func (p *OutputPin) Write(ctx context.Context, level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pin is closed")
	}
	p.pwmRunning = false
	return p.setInternal(level)
}

// Toggle drives the pin to the opposite of the last level this pin drove.
// It does not re-read the physical line, so an external driver changing the
// line does not change what Toggle does next.
func (p *OutputPin) Toggle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pin is closed")
	}
	p.pwmRunning = false
	return p.setInternal(!p.last)
}

// Read returns the logical level the line currently reports. Kernels allow
// reading lines configured as outputs, so this is a readback of the driven
// state.
func (p *OutputPin) Read(ctx context.Context) (Level, error) {
	return p.readLevel()
}

// Lock the mutex before calling this. Starts a background goroutine driving
// a software PWM signal if both parameters are set and one isn't running
// already.
func (p *OutputPin) startSoftwarePWM() error {
	if p.pwmDutyCyclePct == 0 || p.pwmFreqHz == 0 {
		// Not enough parameters to run a loop. Stop any running one, and
		// leave the pin deasserted.
		p.pwmRunning = false
		return p.setInternal(Low)
	}
	if p.pwmRunning {
		return nil
	}

	p.pwmRunning = true
	p.waitGroup.Add(1)
	utils.ManagedGo(p.softwarePwmLoop, p.waitGroup.Done)
	return nil
}

// We drive the pin asserted or deasserted, then wait until it's time for the
// other half of the cycle (or until shutdown). Returns whether the loop
// should continue.
func (p *OutputPin) halfPwmCycle(asserted bool) bool {
	var dutyCycle float64
	var freqHz uint

	shouldContinue := func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.pwmRunning || p.closed {
			return false
		}
		dutyCycle = p.pwmDutyCyclePct
		freqHz = p.pwmFreqHz

		// A failed toggle shouldn't kill the loop; we might succeed next
		// half-cycle. Log it so repeated failures are visible.
		if err := p.setInternal(Level(asserted)); err != nil {
			p.logger.Errorw("error driving pin in PWM loop", "error", err)
		}
		return true
	}()
	if !shouldContinue {
		return false
	}

	if !asserted {
		dutyCycle = 1 - dutyCycle
	}
	duration := time.Duration(float64(time.Second) * dutyCycle / float64(freqHz))
	return utils.SelectContextOrWait(p.cancelCtx, duration)
}

func (p *OutputPin) softwarePwmLoop() {
	for {
		if !p.halfPwmCycle(true) {
			return
		}
		if !p.halfPwmCycle(false) {
			return
		}
	}
}

// PWM returns the current software PWM duty cycle fraction.
func (p *OutputPin) PWM(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pwmDutyCyclePct, nil
}

// SetPWM sets the software PWM duty cycle as a fraction in [0, 1] and starts
// the loop if a frequency is set. A zero duty cycle stops the loop and
// deasserts the pin.
func (p *OutputPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pin is closed")
	}
	p.pwmDutyCyclePct = dutyCyclePct
	return p.startSoftwarePWM()
}

// PWMFreq returns the current software PWM frequency.
func (p *OutputPin) PWMFreq(ctx context.Context) (uint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pwmFreqHz, nil
}

// SetPWMFreq sets the software PWM frequency in hertz and starts the loop if
// a duty cycle is set. Zero stops the loop.
func (p *OutputPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pin is closed")
	}
	p.pwmFreqHz = freqHz
	return p.startSoftwarePWM()
}

// Close stops any PWM loop, waits for it to exit, and releases the kernel
// line exactly once, even when the last operation on the pin failed.
func (p *OutputPin) Close() error {
	p.mu.Lock()
	p.pwmRunning = false
	p.mu.Unlock()

	p.cancelFunc()
	p.waitGroup.Wait()
	return p.closeLine()
}
