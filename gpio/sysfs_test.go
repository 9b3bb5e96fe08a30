//go:build linux

package gpio

import (
	"os"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestSysfsOpenConfiguresDirection(t *testing.T) {
	root := t.TempDir()
	test.That(t, os.Mkdir(root+"/gpio4", 0o755), test.ShouldBeNil)

	l, err := openSysfsLine(root, 4, Output)
	test.That(t, err, test.ShouldBeNil)

	dir, err := os.ReadFile(root + "/gpio4/direction")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(dir), test.ShouldEqual, "out")
	test.That(t, l.Close(), test.ShouldBeNil)
}

func TestSysfsDirectionFailureUnexports(t *testing.T) {
	root := t.TempDir()
	// A directory in place of the attribute makes the direction write fail
	// after the line is already exported.
	test.That(t, os.MkdirAll(root+"/gpio7/direction", 0o755), test.ShouldBeNil)

	l, err := openSysfsLine(root, 7, Input)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, l, test.ShouldBeNil)

	// With no Line returned, the open itself must have released the export.
	released, err := os.ReadFile(root + "/unexport")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(string(released)), test.ShouldEqual, "7")
}
