//go:build linux

// This file implements the native /dev/i2c-N backend. Plain reads and
// writes address the device through I2C_SLAVE; combined write-then-read
// uses I2C_RDWR with two messages, which the adapter driver executes as
// one transaction with a repeated start.
package i2c

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// From linux/i2c-dev.h and linux/i2c.h.
const (
	i2cSlave = 0x0703
	i2cRdwr  = 0x0707
	i2cMRd   = 0x0001
)

// i2cMsg mirrors struct i2c_msg.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	_     uint16
	buf   uintptr
}

type i2cRdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

// NewBus opens the numbered I2C adapter, for example 1 for /dev/i2c-1.
// Each handle opened on the bus gets its own descriptor, acquired when the
// session starts and released when it closes.
func NewBus(number int) (*Bus, error) {
	path := fmt.Sprintf("/dev/i2c-%d", number)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "no I2C adapter %d", number)
	}
	return newBus(path, func(addr byte) (conn, error) {
		return openI2cdevConn(path, addr)
	}), nil
}

type i2cdevConn struct {
	f    *os.File
	path string
	addr byte
}

func openI2cdevConn(path string, addr byte) (conn, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), i2cSlave, uintptr(addr)); errno != 0 {
		return nil, multierr.Combine(errors.Wrapf(errno, "setting slave address 0x%x on %s", addr, path), f.Close())
	}
	return &i2cdevConn{f: f, path: path, addr: addr}, nil
}

// wrapBusError classifies kernel I2C fault codes: a missing acknowledgement
// surfaces as ENXIO (address phase) or ENODEV, everything else stays an IO
// error. See the kernel's i2c fault-codes document.
func (c *i2cdevConn) wrapBusError(err error, op string) error {
	if errors.Is(err, unix.ENXIO) || errors.Is(err, unix.ENODEV) {
		return errors.Wrapf(ErrNack, "%s address 0x%x on %s", op, c.addr, c.path)
	}
	return errors.Wrapf(err, "%s address 0x%x on %s", op, c.addr, c.path)
}

func (c *i2cdevConn) write(tx []byte) error {
	n, err := c.f.Write(tx)
	if err != nil {
		return c.wrapBusError(err, "writing to")
	}
	if n != len(tx) {
		return errors.Errorf("not all bytes were written to address 0x%x on %s: had %d, wrote %d",
			c.addr, c.path, len(tx), n)
	}
	return nil
}

func (c *i2cdevConn) read(rx []byte) error {
	n, err := c.f.Read(rx)
	if err != nil {
		return c.wrapBusError(err, "reading from")
	}
	if n != len(rx) {
		return errors.Errorf("not enough bytes were read from address 0x%x on %s: needed %d, got %d",
			c.addr, c.path, len(rx), n)
	}
	return nil
}

func (c *i2cdevConn) writeRead(tx, rx []byte) error {
	if len(tx) == 0 || len(rx) == 0 {
		return errors.New("combined write-read needs bytes in both phases")
	}
	// The message length field is 16 bits wide.
	if len(tx) > math.MaxUint16 || len(rx) > math.MaxUint16 {
		return errors.Errorf("combined write-read buffers are limited to %d bytes each: had %d to write, %d to read",
			math.MaxUint16, len(tx), len(rx))
	}
	msgs := [2]i2cMsg{
		{
			addr: uint16(c.addr),
			len:  uint16(len(tx)),
			buf:  uintptr(unsafe.Pointer(&tx[0])),
		},
		{
			addr:  uint16(c.addr),
			flags: i2cMRd,
			len:   uint16(len(rx)),
			buf:   uintptr(unsafe.Pointer(&rx[0])),
		},
	}
	data := i2cRdwrIoctlData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(len(msgs)),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, c.f.Fd(), i2cRdwr, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(tx)
	runtime.KeepAlive(rx)
	runtime.KeepAlive(&msgs)
	if errno != 0 {
		return c.wrapBusError(errno, "transacting with")
	}
	return nil
}

func (c *i2cdevConn) readReg(register byte, rx []byte) error {
	return c.writeRead([]byte{register}, rx)
}

func (c *i2cdevConn) close() error {
	return c.f.Close()
}
