//go:build !windows
// +build !windows

// (No syscall.Umask or the equivalent on Windows)

package osutil

import (
	"os"
	"syscall"
	"testing"
)

func TestTempFilePermissions(t *testing.T) {
	// Set a zero umask, so any files created will have the permission bits
	// asked for in the create call and nothing less.
	oldMask := syscall.Umask(0)
	defer syscall.Umask(oldMask)

	fd, err := os.CreateTemp(t.TempDir(), "variant")
	if err != nil {
		t.Fatal(err)
	}

	info, err := fd.Stat()
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Close()

	// The staging file backing an AtomicWriter should have 0600 permissions
	// at the most, or a deposit leaks a readable-to-others variant between
	// CreateAtomic and Close's chmod-to-final-mode step.
	t.Logf("got 0%03o", info.Mode())
	if info.Mode()&^0600 != 0 {
		t.Errorf("permission 0%03o is too generous", info.Mode())
	}
}
