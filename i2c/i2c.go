// Package i2c provides transactional access to I2C devices on Linux. A bus
// hands out one addressed handle at a time, and a handle's combined
// write-then-read goes to the kernel as a single transaction with a
// repeated start, so the target device never sees other traffic between
// the two phases.
package i2c

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrNack is wrapped into errors returned when the target device does not
// acknowledge its address or a byte. Check with errors.Is.
var ErrNack = errors.New("i2c: no acknowledgement from device")

// ErrUnsupported is wrapped into errors returned when a backend cannot
// perform an operation at all, as opposed to it failing transiently.
// Callers must branch on it rather than retry.
var ErrUnsupported = errors.New("i2c: operation not supported by this bus")

// conn is one addressed device connection. The two implementations are the
// native /dev/i2c-N backend (NewBus) and the d2r2 SMBus backend (NewSMBus);
// the set is closed on purpose, there is no third kernel mechanism.
type conn interface {
	// write sends tx to the device.
	write(tx []byte) error
	// read fills rx from the device.
	read(rx []byte) error
	// writeRead sends tx and fills rx as ONE combined kernel transaction,
	// with no bus release between the phases.
	writeRead(tx, rx []byte) error
	// readReg reads len(rx) bytes from a register, using the combined
	// transaction where the backend has one.
	readReg(register byte, rx []byte) error
	close() error
}

// A Bus is a shareable I2C bus. OpenHandle locks it; the returned handle
// MUST be closed to release the bus.
type Bus struct {
	name string
	dial func(addr byte) (conn, error)

	mu sync.Mutex
}

func newBus(name string, dial func(addr byte) (conn, error)) *Bus {
	return &Bus{name: name, dial: dial}
}

// OpenHandle locks the bus and opens a session with the device at addr.
// The lock is held until the handle is closed, so nothing else issued
// through this Bus can interleave with the session.
func (b *Bus) OpenHandle(addr byte) (*Handle, error) {
	b.mu.Lock()
	c, err := b.dial(addr)
	if err != nil {
		b.mu.Unlock()
		return nil, errors.Wrapf(err, "opening address 0x%x on %s", addr, b.name)
	}
	return &Handle{bus: b, conn: c, addr: addr}, nil
}

// A Handle is an open session with one device address. It is transient:
// open it, talk to the device, close it. It must not outlive the call
// sequence it was opened for, because it holds the bus lock.
type Handle struct {
	bus      *Bus
	conn     conn
	addr     byte
	isClosed bool
}

func (h *Handle) check() error {
	if h.isClosed {
		return errors.New("can't use an already closed handle")
	}
	return nil
}

// Write sends tx to the device.
func (h *Handle) Write(ctx context.Context, tx []byte) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.conn.write(tx)
}

// Read reads count bytes from the device.
func (h *Handle) Read(ctx context.Context, count int) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	buffer := make([]byte, count)
	if err := h.conn.read(buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// WriteRead sends tx and then reads rxLen bytes as one combined
// transaction: the kernel issues a repeated start between the phases and
// never releases the bus, so no other master or interleaved traffic can
// disturb the device's read pointer. Backends that can only issue two
// independent operations report ErrUnsupported instead of faking it.
//
// No retry is performed on failure; retry policy belongs to the caller.
func (h *Handle) WriteRead(ctx context.Context, tx []byte, rxLen int) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	buffer := make([]byte, rxLen)
	if err := h.conn.writeRead(tx, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadByteData reads one byte from the given register.
func (h *Handle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	buffer := make([]byte, 1)
	if err := h.conn.readReg(register, buffer); err != nil {
		return 0, err
	}
	return buffer[0], nil
}

// WriteByteData writes one byte to the given register.
func (h *Handle) WriteByteData(ctx context.Context, register, data byte) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.conn.write([]byte{register, data})
}

// ReadBlockData reads numBytes from the given register.
func (h *Handle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	buffer := make([]byte, numBytes)
	if err := h.conn.readReg(register, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// WriteBlockData writes data to the given register. On devices that use
// registers this is the register address followed by the payload in one
// write.
func (h *Handle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	if err := h.check(); err != nil {
		return err
	}
	raw := make([]byte, len(data)+1)
	raw[0] = register
	copy(raw[1:], data)
	return h.conn.write(raw)
}

// Close ends the session and releases the lock on the bus.
func (h *Handle) Close() error {
	if h.isClosed {
		return nil
	}
	h.isClosed = true
	err := h.conn.close()
	h.bus.mu.Unlock()
	return err
}

// A Register is a lightweight wrapper around a handle for one device
// register.
type Register struct {
	Handle   *Handle
	Register byte
}

// ReadByteData reads a byte from the register.
func (r *Register) ReadByteData(ctx context.Context) (byte, error) {
	return r.Handle.ReadByteData(ctx, r.Register)
}

// WriteByteData writes a byte to the register.
func (r *Register) WriteByteData(ctx context.Context, data byte) error {
	return r.Handle.WriteByteData(ctx, r.Register, data)
}
