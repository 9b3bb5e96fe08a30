//go:build linux

// This file implements the Conn contract on top of periph.io's SPI port
// registry. periph releases chip select at the end of every Tx call, so
// this connection can only realize single-segment transactions; batches
// that need chip select held across segments report ErrUnsupported.
package spi

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	pspi "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

type periphConn struct {
	name string
	port pspi.PortCloser
	conn pspi.Conn
}

// OpenPeriph opens an SPI connection through periph.io's registry, for
// example ("SPI0.0", 1000000, 0). Use Open instead when batched
// multi-segment transactions are needed.
func OpenPeriph(name string, baud uint, mode uint) (Conn, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, errors.Wrap(hostInitErr, "initializing periph host drivers")
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI port %s", name)
	}
	conn, err := port.Connect(physic.Hertz*physic.Frequency(baud), pspi.Mode(mode), 8)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "connecting to SPI port %s", name), port.Close())
	}
	return &periphConn{name: name, port: port, conn: conn}, nil
}

func (c *periphConn) Transact(ctx context.Context, segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	if len(segments) > 1 {
		return errors.Wrapf(ErrUnsupported,
			"periph.io releases chip select between transfers; %d segments need one held transaction", len(segments))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seg := segments[0]
	tx := seg.TX
	if tx == nil {
		// periph wants equal-length buffers; zero fill matches what the
		// kernel drives for read-only transfers.
		tx = make([]byte, len(seg.RX))
	}
	if err := c.conn.Tx(tx, seg.RX); err != nil {
		return errors.Wrapf(err, "SPI transfer on %s", c.name)
	}
	return nil
}

func (c *periphConn) Close() error {
	return c.port.Close()
}

var _ Conn = (*periphConn)(nil)
