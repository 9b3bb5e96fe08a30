//go:build linux

// This file implements the Line contract on the legacy sysfs GPIO class
// (/sys/class/gpio). Edge waits use the kernel's poll support on the value
// attribute.
package gpio

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sys/unix"
)

const (
	sysfsGpioRoot = "/sys/class/gpio"

	// How long an edge poll sleeps before rechecking the context. The
	// kernel wait itself has no cancellation, so we wake up periodically.
	sysfsPollInterval = 100 * time.Millisecond
)

type sysfsLine struct {
	number    uint
	root      string
	basePath  string
	direction Direction
}

// OpenSysfsLine exports the numbered GPIO through the sysfs class and
// configures its direction. udev rules take a moment to make the exported
// attributes accessible, so this retries access for a short while before
// giving up.
func OpenSysfsLine(number uint, direction Direction) (Line, error) {
	return openSysfsLine(sysfsGpioRoot, number, direction)
}

func openSysfsLine(root string, number uint, direction Direction) (Line, error) {
	l := &sysfsLine{
		number:    number,
		root:      root,
		basePath:  fmt.Sprintf("%s/gpio%d", root, number),
		direction: direction,
	}
	if err := l.export(); err != nil {
		return nil, err
	}

	dir := "in"
	if direction == Output {
		dir = "out"
	}
	if err := l.writeAttr("direction", dir); err != nil {
		// Unexport again, or the line stays exported with no Line the
		// caller could close.
		return nil, multierr.Combine(errors.Wrapf(err, "configuring direction of gpio %d", number), l.Close())
	}
	return l, nil
}

func (l *sysfsLine) export() error {
	if fi, err := os.Stat(l.basePath); err == nil && fi.IsDir() {
		return nil // Already exported.
	}

	if err := os.WriteFile(l.root+"/export", []byte(fmt.Sprintf("%d", l.number)), 0o220); err != nil {
		return errors.Wrapf(err, "exporting gpio %d", l.number)
	}

	// Keep polling for access until the udev scripts have run, or give up.
	for i := 0; i < 10; i++ {
		if err := unix.Access(l.basePath, unix.R_OK|unix.W_OK|unix.X_OK); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.Errorf("can't access exported directory for gpio %d", l.number)
}

func (l *sysfsLine) writeAttr(name, value string) error {
	return os.WriteFile(l.basePath+"/"+name, []byte(value), 0o220)
}

func (l *sysfsLine) readAttr(name string) (string, error) {
	v, err := os.ReadFile(l.basePath + "/" + name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(v)), nil
}

func (l *sysfsLine) Value() (Level, error) {
	v, err := l.readAttr("value")
	if err != nil {
		return Low, errors.Wrapf(err, "reading gpio %d", l.number)
	}
	return Level(v != "0"), nil
}

func (l *sysfsLine) SetValue(level Level) error {
	value := "0"
	if level == High {
		value = "1"
	}
	if err := l.writeAttr("value", value); err != nil {
		return errors.Wrapf(err, "writing gpio %d", l.number)
	}
	return nil
}

func (l *sysfsLine) WaitForEdge(ctx context.Context, edge Edge) error {
	if l.direction != Input {
		return ErrEdgeUnsupported
	}

	if err := l.writeAttr("edge", edge.String()); err != nil {
		return errors.Wrapf(err, "configuring edge of gpio %d", l.number)
	}

	fd, err := unix.Open(l.basePath+"/value", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.Wrapf(err, "opening value of gpio %d", l.number)
	}
	defer utils.UncheckedErrorFunc(func() error { return unix.Close(fd) })

	// The sysfs interface reports the value attribute as immediately
	// readable; consume the current value so poll only fires on a real
	// transition from here on.
	buf := make([]byte, 16)
	if _, err := unix.Read(fd, buf); err != nil {
		return errors.Wrapf(err, "draining value of gpio %d", l.number)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI | unix.POLLERR}}
		n, err := unix.Poll(fds, int(sysfsPollInterval.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrapf(err, "polling gpio %d", l.number)
		}
		if n == 0 {
			continue // Timed out; recheck the context.
		}
		if fds[0].Revents&unix.POLLERR != 0 && fds[0].Revents&unix.POLLPRI == 0 {
			return errors.Errorf("poll error on gpio %d", l.number)
		}
		// The kernel only signals the configured edge, so any POLLPRI here
		// is the transition we're waiting for.
		return nil
	}
}

func (l *sysfsLine) Close() error {
	if _, err := os.Stat(l.basePath); err != nil {
		return nil // Never exported, or already unexported.
	}
	if err := os.WriteFile(l.root+"/unexport", []byte(fmt.Sprintf("%d", l.number)), 0o220); err != nil {
		return errors.Wrapf(err, "unexporting gpio %d", l.number)
	}
	return nil
}
