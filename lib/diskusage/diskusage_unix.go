//go:build !windows

// Package diskusage reports free space on the filesystem backing the
// engine root, the same statfs-derived figure the teacher's vendored
// calmh/du package exposes, reimplemented against golang.org/x/sys/unix
// instead of raw syscall numbers so it keeps working across the BSD
// variants x/sys tracks.
package diskusage

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Usage reports free and total space, in bytes, for the filesystem
// containing path.
type Usage struct {
	FreeBytes  int64
	AvailBytes int64
	TotalBytes int64
}

// Get statfs(2)'s path and converts the block counts to bytes.
func Get(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Clean(path), &stat); err != nil {
		return Usage{}, err
	}
	bsize := int64(stat.Bsize)
	return Usage{
		FreeBytes:  int64(stat.Bfree) * bsize,
		AvailBytes: int64(stat.Bavail) * bsize,
		TotalBytes: int64(stat.Blocks) * bsize,
	}, nil
}

// FreeFraction returns the fraction (0-1) of total space that is
// available to an unprivileged writer. Returns 0 on error.
func FreeFraction(path string) float64 {
	u, err := Get(path)
	if err != nil || u.TotalBytes == 0 {
		return 0
	}
	return float64(u.AvailBytes) / float64(u.TotalBytes)
}
