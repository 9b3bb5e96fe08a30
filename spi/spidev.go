//go:build linux

// This file implements the Conn contract on /dev/spidevB.C device nodes.
// A whole segment list goes to the kernel as a single SPI_IOC_MESSAGE
// ioctl, which keeps chip select asserted across all segments.
package spi

import (
	"context"
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// ioctl number composition, per asm-generic/ioctl.h.
const (
	iocWrite     = 1
	iocSizeShift = 16
	iocDirShift  = 30

	spidevMagic = 0x6b // 'k'

	spiIocWrMode        = (iocWrite << iocDirShift) | (1 << iocSizeShift) | (spidevMagic << 8) | 1
	spiIocWrBitsPerWord = (iocWrite << iocDirShift) | (1 << iocSizeShift) | (spidevMagic << 8) | 3
	spiIocWrMaxSpeedHz  = (iocWrite << iocDirShift) | (4 << iocSizeShift) | (spidevMagic << 8) | 4
)

// The ioctl size field is 14 bits, which caps one message at this many
// transfer structs. The field holds sizes up to (1<<14)-1: a message of
// exactly 1<<14 bytes would encode as size zero and the kernel would
// silently copy no transfers at all.
const maxSegmentsPerMessage = ((1 << 14) - 1) / int(unsafe.Sizeof(spiIocTransfer{}))

// spiIocMessage is SPI_IOC_MESSAGE(n): a write ioctl whose size is n
// transfer structs.
func spiIocMessage(n int) uintptr {
	size := uintptr(n) * unsafe.Sizeof(spiIocTransfer{})
	return uintptr(iocWrite<<iocDirShift) | (size << iocSizeShift) | (spidevMagic << 8)
}

// spiIocTransfer mirrors struct spi_ioc_transfer from linux/spi/spidev.h.
type spiIocTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	length      uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	pad         uint16
}

// A Spidev is a Conn backed by a spidev device node. It supports full
// multi-segment transactions.
type Spidev struct {
	f    *os.File
	path string

	mode    uint8
	speedHz uint32
	bits    uint8
}

// A SpidevOption configures the connection at open time.
type SpidevOption func(*Spidev)

// WithMode sets the SPI mode (CPOL in the high bit, CPHA in the low bit).
func WithMode(mode uint8) SpidevOption {
	return func(s *Spidev) {
		s.mode = mode
	}
}

// WithMaxSpeed sets the maximum clock speed in hertz. Zero leaves the
// driver default in place.
func WithMaxSpeed(speedHz uint32) SpidevOption {
	return func(s *Spidev) {
		s.speedHz = speedHz
	}
}

// WithBitsPerWord sets the word size. Zero leaves the driver default (8).
func WithBitsPerWord(bits uint8) SpidevOption {
	return func(s *Spidev) {
		s.bits = bits
	}
}

// Open opens a spidev device node, for example "/dev/spidev0.0", and
// applies the requested mode, speed, and word size.
func Open(path string, opts ...SpidevOption) (*Spidev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI device %s", path)
	}
	s := &Spidev{f: f, path: path}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.configure(); err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	return s, nil
}

func (s *Spidev) configure() error {
	if err := s.ioctl(spiIocWrMode, unsafe.Pointer(&s.mode)); err != nil {
		return errors.Wrapf(err, "setting mode on %s", s.path)
	}
	if s.bits != 0 {
		if err := s.ioctl(spiIocWrBitsPerWord, unsafe.Pointer(&s.bits)); err != nil {
			return errors.Wrapf(err, "setting bits per word on %s", s.path)
		}
	}
	if s.speedHz != 0 {
		if err := s.ioctl(spiIocWrMaxSpeedHz, unsafe.Pointer(&s.speedHz)); err != nil {
			return errors.Wrapf(err, "setting max speed on %s", s.path)
		}
	}
	return nil
}

func (s *Spidev) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, s.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Transact sends the whole segment list as one kernel message. Chip select
// stays asserted between segments because csChange is left at zero. If the
// kernel rejects the message partway, completed segments have already hit
// the wire; nothing is rolled back.
func (s *Spidev) Transact(ctx context.Context, segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	if len(segments) > maxSegmentsPerMessage {
		return errors.Wrapf(ErrUnsupported, "batch of %d segments exceeds one kernel message", len(segments))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	transfers := make([]spiIocTransfer, len(segments))
	for i, seg := range segments {
		length := len(seg.TX)
		if length == 0 {
			length = len(seg.RX)
		}
		if len(seg.TX) != 0 && len(seg.RX) != 0 && len(seg.TX) != len(seg.RX) {
			return errors.Errorf("segment %d has mismatched buffers (%d tx, %d rx)", i, len(seg.TX), len(seg.RX))
		}
		transfers[i] = spiIocTransfer{
			length:      uint32(length),
			speedHz:     s.speedHz,
			bitsPerWord: s.bits,
		}
		if len(seg.TX) != 0 {
			transfers[i].txBuf = uint64(uintptr(unsafe.Pointer(&seg.TX[0])))
		}
		if len(seg.RX) != 0 {
			transfers[i].rxBuf = uint64(uintptr(unsafe.Pointer(&seg.RX[0])))
		}
	}

	err := s.ioctl(spiIocMessage(len(transfers)), unsafe.Pointer(&transfers[0]))
	// The transfer structs hold raw pointers into the segment buffers;
	// keep them live until the ioctl has returned.
	runtime.KeepAlive(segments)
	if err != nil {
		return errors.Wrapf(err, "SPI message on %s", s.path)
	}
	return nil
}

// Close releases the device node.
func (s *Spidev) Close() error {
	return s.f.Close()
}

var _ Conn = (*Spidev)(nil)
