//go:build linux

// This file implements the Line contract on the GPIO character device
// (/dev/gpiochipN) by way of mkch's gpio package.
package gpio

import (
	"context"

	kgpio "github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// consumer is the label lines are requested under; it shows up in
// gpioinfo output.
const consumer = "linuxhal"

type cdevLine struct {
	devicePath string
	offset     uint32
	direction  Direction

	// Exactly one of these is set, depending on direction. Input lines are
	// opened with event support so they can be watched for edges.
	out *kgpio.Line
	in  *kgpio.LineWithEvent
}

// OpenCdevLine requests one line from a GPIO character device, for example
// ("/dev/gpiochip0", 17). Input lines are subscribed to both edge events
// from the moment they are opened.
func OpenCdevLine(devicePath string, offset uint32, direction Direction) (Line, error) {
	chip, err := kgpio.OpenChip(devicePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening GPIO chip %s", devicePath)
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	line := &cdevLine{devicePath: devicePath, offset: offset, direction: direction}
	if direction == Output {
		// The 0 is the default value the line starts at; pins drive their
		// intended initial level immediately after construction.
		line.out, err = chip.OpenLine(offset, 0, kgpio.Output, consumer)
	} else {
		line.in, err = chip.OpenLineWithEvents(offset, kgpio.Input, kgpio.BothEdges, consumer)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "requesting line %d on %s", offset, devicePath)
	}
	return line, nil
}

func (l *cdevLine) Value() (Level, error) {
	var value byte
	var err error
	if l.direction == Output {
		value, err = l.out.Value()
	} else {
		value, err = l.in.Value()
	}
	if err != nil {
		return Low, errors.Wrapf(err, "reading line %d on %s", l.offset, l.devicePath)
	}
	// Expected to be 0 or 1, but treat any non-zero value as high.
	return Level(value != 0), nil
}

func (l *cdevLine) SetValue(level Level) error {
	if l.direction != Output {
		return errors.Errorf("line %d on %s is an input", l.offset, l.devicePath)
	}
	var value byte
	if level == High {
		value = 1
	}
	return l.out.SetValue(value)
}

func (l *cdevLine) WaitForEdge(ctx context.Context, edge Edge) error {
	if l.direction != Input {
		return ErrEdgeUnsupported
	}
	// The line is subscribed to both edges; filter here. Events are queued
	// by the kernel from the time the line was opened.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-l.in.Events():
			if !ok {
				return errors.Errorf("line %d on %s closed while waiting for edge", l.offset, l.devicePath)
			}
			if edge == Both ||
				(edge == Rising && event.RisingEdge) ||
				(edge == Falling && !event.RisingEdge) {
				return nil
			}
		}
	}
}

func (l *cdevLine) Close() error {
	if l.direction == Output {
		return l.out.Close()
	}
	return l.in.Close()
}
