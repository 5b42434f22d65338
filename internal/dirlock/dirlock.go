// Package dirlock implements the per-directory advisory locking scope
// used at the two locking levels in this engine: the resources root and
// each individual resource directory. A lock is a POSIX advisory lock on
// a hidden, empty sentinel file so it is honoured across processes on
// the same host, not just goroutines within one.
package dirlock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/ao-apps/ao-cdn-data/internal/cdnerr"
	"github.com/ao-apps/ao-cdn-data/lib/logger"
)

const sentinelName = ".lock"

// sentinelPerm is conservative: owner+group read/write, no world access.
const sentinelPerm = 0o660

var l = logger.DefaultLogger.NewFacility("dirlock", "directory locking")

// Lock is a held advisory lock on one directory's sentinel file. Release
// it with Release; the sentinel file itself is intentionally left behind,
// empty, on disk.
type Lock struct {
	fl *flock.Flock
}

// SentinelPath returns the path of the hidden lock file for dir, mostly
// useful so callers (fsck, replication-exclusion lists) can recognize and
// skip it while walking a directory.
func SentinelPath(dir string) string {
	return filepath.Join(dir, sentinelName)
}

// Acquire blocks until it holds a shared (shared=true) or exclusive
// (shared=false) lock on dir's sentinel file, creating the sentinel with
// conservative permissions (owner+group read/write, no world) if it does
// not already exist.
func Acquire(dir string, shared bool) (*Lock, error) {
	path := SentinelPath(dir)
	if err := ensureSentinel(path); err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, path, "failed to create directory lock sentinel", err)
	}
	fl := flock.New(path)

	var err error
	if shared {
		err = fl.RLock()
	} else {
		err = fl.Lock()
	}
	if err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, path, "failed to acquire directory lock", err)
	}
	return &Lock{fl: fl}, nil
}

func ensureSentinel(path string) error {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, sentinelPerm)
	if err != nil {
		return err
	}
	return fd.Close()
}

// Release releases the lock. The sentinel file is never removed.
func (l *Lock) Release() error {
	path := l.fl.Path()
	if err := l.fl.Close(); err != nil {
		return cdnerr.Wrap(cdnerr.Io, path, "failed to release directory lock", err)
	}
	return nil
}
