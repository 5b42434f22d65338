// Package osutil provides low level filesystem helpers used throughout the
// engine for the handful of places that must behave atomically: writing a
// file whose readers should never see a partial result, and renaming a path
// across a boundary that does not support atomic rename.
package osutil

import (
	"io"
	"os"
	"path/filepath"
)

// AtomicWriter writes to a temporary file in the same directory as the
// final destination and renames it into place on Close, so that readers
// never observe a partially written file.
type AtomicWriter struct {
	path string
	next *os.File
	err  error
}

// CreateAtomic creates a new file that will atomically replace path once
// Close is called successfully. The original file's permissions, if it
// exists, are preserved; otherwise the new file is chmodded to exactly
// 0644 (the umask does not apply to that chmod).
func CreateAtomic(path string) (*AtomicWriter, error) {
	fd, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return nil, err
	}
	return &AtomicWriter{path: path, next: fd}, nil
}

func (w *AtomicWriter) Write(bs []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	var n int
	n, w.err = w.next.Write(bs)
	return n, w.err
}

// ReadFrom copies from r into the staged file, satisfying io.ReaderFrom so
// callers (e.g. io.Copy) avoid an intermediate buffer.
func (w *AtomicWriter) ReadFrom(r io.Reader) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	var n int64
	n, w.err = io.Copy(w.next, r)
	return n, w.err
}

// Close finishes writing the file, and closes and renames it into place.
// If an error occurred, the temporary file is removed instead.
func (w *AtomicWriter) Close() error {
	if w.err != nil {
		w.next.Close()
		os.Remove(w.next.Name())
		return w.err
	}

	if info, err := os.Stat(w.path); err == nil {
		w.err = os.Chmod(w.next.Name(), info.Mode())
	} else {
		w.err = os.Chmod(w.next.Name(), 0644)
	}
	if w.err != nil {
		w.next.Close()
		os.Remove(w.next.Name())
		return w.err
	}

	if w.err = w.next.Close(); w.err != nil {
		os.Remove(w.next.Name())
		return w.err
	}

	if w.err = RenameOrCopy(w.next.Name(), w.path); w.err != nil {
		os.Remove(w.next.Name())
		return w.err
	}

	return nil
}
