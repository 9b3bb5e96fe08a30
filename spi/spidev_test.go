//go:build linux

package spi

import (
	"context"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestIocMessageEncoding(t *testing.T) {
	size := unsafe.Sizeof(spiIocTransfer{})
	test.That(t, size, test.ShouldEqual, uintptr(32))

	// SPI_IOC_MESSAGE(1) is a well-known constant.
	test.That(t, spiIocMessage(1), test.ShouldEqual, uintptr(0x40206b00))

	// The 14-bit size field must survive for every batch size up to the
	// cap; at one past it the field would wrap to zero and the kernel
	// would happily transfer nothing.
	sizeField := func(req uintptr) uintptr { return (req >> iocSizeShift) & ((1 << 14) - 1) }
	for _, n := range []int{1, 2, maxSegmentsPerMessage} {
		test.That(t, sizeField(spiIocMessage(n)), test.ShouldEqual, uintptr(n)*size)
		test.That(t, sizeField(spiIocMessage(n)), test.ShouldNotEqual, uintptr(0))
	}
	test.That(t, sizeField(spiIocMessage(maxSegmentsPerMessage+1)), test.ShouldEqual, uintptr(0))
}

func TestTransactRejectsOversizedBatch(t *testing.T) {
	ctx := context.Background()

	// One segment more than fits in a single kernel message must be
	// rejected up front, before anything reaches the wire.
	segments := make([]Segment, maxSegmentsPerMessage+1)
	for i := range segments {
		segments[i] = Segment{TX: []byte{0x00}}
	}

	s := &Spidev{path: "/dev/spidev0.0"}
	err := s.Transact(ctx, segments)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrUnsupported), test.ShouldBeTrue)
}
