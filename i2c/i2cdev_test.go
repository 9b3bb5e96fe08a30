//go:build linux

package i2c

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestWriteReadRejectsOversizedBuffers(t *testing.T) {
	// The length guard runs before any descriptor use, so an unopened
	// connection is enough to exercise it.
	c := &i2cdevConn{path: "/dev/i2c-1", addr: 0x42}

	oversized := make([]byte, math.MaxUint16+1)
	small := make([]byte, 4)

	err := c.writeRead(oversized, small)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "limited to 65535 bytes")

	err = c.writeRead(small, oversized)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "limited to 65535 bytes")

	err = c.writeRead(make([]byte, math.MaxUint16+1), make([]byte, math.MaxUint16+1))
	test.That(t, err, test.ShouldNotBeNil)
}
