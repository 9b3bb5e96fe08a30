// Package spi executes batched SPI operations against Linux SPI devices.
// A batch of heterogeneous operations (read-only, write-only, full-duplex
// transfer, in-place transfer) over buffers of possibly unequal length is
// compiled into the minimal set of wire transfers and executed as one
// chip-select-held transaction where the backend supports that.
package spi

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// ErrUnsupported is returned when a backend cannot realize a requested
// batch at all, for example a multi-segment transaction on a connection
// that releases chip select between transfers. This is a capability limit,
// not a transient failure: callers must not retry.
var ErrUnsupported = errors.New("spi: operation not supported by this connection")

type opKind int

const (
	opRead opKind = iota
	opWrite
	opTransfer
	opTransferInPlace
)

// An Operation is one logical step of a batch. Construct operations with
// Read, Write, Transfer, and TransferInPlace; the zero value is not valid.
type Operation struct {
	kind opKind
	tx   []byte
	rx   []byte
}

// Read fills buf with bytes clocked in from the device. The outgoing line
// is driven with the device's fill byte for the duration (0x00 unless
// configured with WithFill).
func Read(buf []byte) Operation {
	return Operation{kind: opRead, rx: buf}
}

// Write clocks buf out to the device and discards whatever comes back.
func Write(buf []byte) Operation {
	return Operation{kind: opWrite, tx: buf}
}

// Transfer clocks tx out while filling rx with the incoming bytes. The
// buffers need not be equal length: the exchange is full duplex for the
// shorter of the two, and the remainder of the longer buffer is a
// write-only or read-only tail. Neither buffer is ever truncated.
func Transfer(tx, rx []byte) Operation {
	return Operation{kind: opTransfer, tx: tx, rx: rx}
}

// TransferInPlace clocks buf out while overwriting it with the incoming
// bytes. The engine snapshots the outgoing bytes before execution, so the
// device driver always reads the original contents even though the
// response lands in the same buffer. The engine owns buf for the duration
// of the call.
func TransferInPlace(buf []byte) Operation {
	return Operation{kind: opTransferInPlace, rx: buf}
}

// A Segment is one wire transfer: TX is clocked out (nil for read-only
// segments) while RX receives (nil for write-only segments). When both are
// set they are the same length. Backends execute a segment list with chip
// select held for the whole list.
type Segment struct {
	TX []byte
	RX []byte
}

// A Conn is an open connection to one SPI device. There are two
// implementations: Open (spidev ioctl, full batching) and OpenPeriph
// (periph.io, single segments only).
//
// A Conn owns its kernel resource exclusively and must not be shared
// between concurrent callers.
type Conn interface {
	// Transact executes the segments as one transaction, chip select held
	// across all of them. On error, segments already executed are not
	// rolled back.
	Transact(ctx context.Context, segments []Segment) error

	Close() error
}

// A Device wraps a Conn with batching and fill-byte policy.
type Device struct {
	conn   Conn
	fill   byte
	logger golog.Logger
}

// A DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithFill sets the byte driven on the outgoing line during read-only
// activity. The default is 0x00, which is also what the kernel drives when
// no outgoing buffer is supplied.
func WithFill(b byte) DeviceOption {
	return func(d *Device) {
		d.fill = b
	}
}

// WithLogger gives the device a logger for debug output.
func WithLogger(logger golog.Logger) DeviceOption {
	return func(d *Device) {
		d.logger = logger
	}
}

// NewDevice wraps an open connection.
func NewDevice(conn Conn, opts ...DeviceOption) *Device {
	d := &Device{conn: conn}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transact compiles the operations into wire segments and executes them as
// one transaction. Operations execute in order with chip select held
// throughout.
//
// On failure the remaining operations are aborted but nothing is rolled
// back: any prefix of the batch may have taken effect on the device.
func (d *Device) Transact(ctx context.Context, ops ...Operation) error {
	segments := plan(ops, d.fill)
	if len(segments) == 0 {
		return nil
	}
	if d.logger != nil {
		d.logger.Debugw("spi transaction", "operations", len(ops), "segments", len(segments))
	}
	return d.conn.Transact(ctx, segments)
}

// Read fills buf from the device. See the Read operation for fill-byte
// semantics.
func (d *Device) Read(ctx context.Context, buf []byte) error {
	return d.Transact(ctx, Read(buf))
}

// Write clocks buf out to the device.
func (d *Device) Write(ctx context.Context, buf []byte) error {
	return d.Transact(ctx, Write(buf))
}

// Transfer performs a full-duplex exchange; tx and rx may differ in length.
func (d *Device) Transfer(ctx context.Context, tx, rx []byte) error {
	return d.Transact(ctx, Transfer(tx, rx))
}

// TransferInPlace performs a full-duplex exchange reusing buf as both
// source and destination.
func (d *Device) TransferInPlace(ctx context.Context, buf []byte) error {
	return d.Transact(ctx, TransferInPlace(buf))
}

// Close releases the underlying connection.
func (d *Device) Close() error {
	return d.conn.Close()
}
