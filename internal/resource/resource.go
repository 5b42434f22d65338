// Package resource implements one committed asset: its directory, its
// "original" symlink, the set of derived variants, and the proportional
// scaling algorithm that derives new variants on demand.
package resource

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ao-apps/ao-cdn-data/internal/cdnerr"
	"github.com/ao-apps/ao-cdn-data/internal/content"
	"github.com/ao-apps/ao-cdn-data/internal/fsck"
	"github.com/ao-apps/ao-cdn-data/internal/naming"
	"github.com/ao-apps/ao-cdn-data/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("resource", "resource-level operations")

const lockName = ".lock"

// Variant is one concrete file representing a resource at a specific
// (width, height) for a given content type. Equality across two Variants
// is path equality.
type Variant struct {
	Path   string
	Type   content.Type
	Width  int
	Height int
}

func (v Variant) Equal(o Variant) bool { return v.Path == o.Path }

func (v Variant) filename() string { return filepath.Base(v.Path) }

// Notifier is called after a committed mutation with the highest-level
// path that needs to reach every peer; it is how a Resource reaches the
// replication boundary without importing it directly.
type Notifier func(paths ...string)

// Scaler renders a new, smaller variant from src into dst. It is the
// injected image-decode/encode backend; apart from DefaultScaler, this
// package never decodes pixel data beyond reading format headers via
// content.Type.
type Scaler interface {
	ScaleInto(src string, width, height int, dst string) error
}

// Metrics receives counts for the two outcomes Scale can have. It is
// satisfied structurally by *lib/metrics.Registry so this package never
// has to import it.
type Metrics interface {
	ScaleCacheHit()
	ScaleRendered()
}

// Resource represents one committed asset backed by a directory.
type Resource struct {
	ID  naming.ResourceId
	Dir string

	Notify  Notifier
	Scaler  Scaler
	Metrics Metrics
}

func New(id naming.ResourceId, dir string) *Resource {
	return &Resource{ID: id, Dir: dir}
}

// isSkippable reports whether a directory entry name should be ignored by
// every traversal over a resource directory: the lock sentinel, the
// original symlink, and transient staging files.
func isSkippable(name string) bool {
	return name == lockName || strings.HasPrefix(name, "original.") || strings.HasSuffix(name, ".new")
}

// EnumerateVariants lists the resource directory, skipping the lock
// sentinel, the original symlink, and any *.new staging file. When typ is
// non-nil, only variants of that content type are returned. No locking is
// performed: variant files are immutable once visible.
func (r *Resource) EnumerateVariants(typ *content.Type) ([]Variant, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, r.Dir, "failed to list resource directory", err)
	}

	var out []Variant
	for _, e := range entries {
		if e.IsDir() || isSkippable(e.Name()) {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(e.Name()), ".")
		ct, ok := content.ByExtension(ext)
		if !ok {
			continue
		}
		if typ != nil && ct.Extension() != typ.Extension() {
			continue
		}
		w, h, err := ct.ParseFilenameDimensions(e.Name())
		if err != nil {
			l.Debugln("skipping unparseable variant", e.Name(), err)
			continue
		}
		out = append(out, Variant{Path: filepath.Join(r.Dir, e.Name()), Type: ct, Width: w, Height: h})
	}
	return out, nil
}

// OriginalContentType scans the directory for an "original.<ext>" entry
// and returns the ContentType whose extension matches.
func (r *Resource) OriginalContentType() (content.Type, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return content.Type{}, cdnerr.Wrap(cdnerr.Io, r.Dir, "failed to list resource directory", err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "original.") {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(e.Name()), ".")
		if ct, ok := content.ByExtension(ext); ok {
			return ct, nil
		}
	}
	return content.Type{}, cdnerr.New(cdnerr.InvalidState, r.Dir, "no original.<ext> entry found")
}

// Original resolves the "original.<ext>" symlink, following it to its
// target and materializing a Variant from the target's filename.
func (r *Resource) Original() (Variant, error) {
	ct, err := r.OriginalContentType()
	if err != nil {
		return Variant{}, err
	}
	link := filepath.Join(r.Dir, ct.OriginalLinkName())

	target, err := os.Readlink(link)
	if err != nil {
		return Variant{}, cdnerr.Wrap(cdnerr.NotFound, link, "original symlink missing or unreadable", err)
	}
	targetPath := target
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(r.Dir, target)
	}
	if _, err := os.Stat(targetPath); err != nil {
		return Variant{}, cdnerr.Wrap(cdnerr.NotFound, targetPath, "original symlink target does not exist", err)
	}

	w, h, err := ct.ParseFilenameDimensions(filepath.Base(targetPath))
	if err != nil {
		return Variant{}, cdnerr.Wrap(cdnerr.NotFound, targetPath, "original target filename unparseable", err)
	}
	return Variant{Path: targetPath, Type: ct, Width: w, Height: h}, nil
}

// FindVariantByBytes iterates the resource's variants of typ, comparing
// each whose size matches candidateSize byte-for-byte against the reader
// produced by openCandidate. It returns the first match. No locking:
// variant files are immutable once visible.
func (r *Resource) FindVariantByBytes(openCandidate func() (io.Reader, error), candidateSize int64, typ content.Type) (Variant, bool, error) {
	variants, err := r.EnumerateVariants(&typ)
	if err != nil {
		return Variant{}, false, err
	}
	original, err := r.Original()
	if err == nil && original.Type.Extension() == typ.Extension() {
		variants = append(variants, original)
	}

	for _, v := range variants {
		info, err := os.Stat(v.Path)
		if err != nil {
			continue
		}
		if info.Size() != candidateSize {
			continue
		}
		eq, err := equalBytes(v.Path, openCandidate)
		if err != nil {
			return Variant{}, false, err
		}
		if eq {
			return v, true, nil
		}
	}
	return Variant{}, false, nil
}

func equalBytes(path string, openCandidate func() (io.Reader, error)) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, cdnerr.Wrap(cdnerr.Io, path, "failed to open variant for comparison", err)
	}
	defer f.Close()

	cr, err := openCandidate()
	if err != nil {
		return false, err
	}
	if closer, ok := cr.(io.Closer); ok {
		defer closer.Close()
	}

	const bufSize = 64 * 1024
	a := bufio.NewReaderSize(f, bufSize)
	b := bufio.NewReaderSize(cr, bufSize)
	abuf := make([]byte, bufSize)
	bbuf := make([]byte, bufSize)
	for {
		an, aerr := io.ReadFull(a, abuf)
		bn, berr := io.ReadFull(b, bbuf)
		if an != bn {
			return false, nil
		}
		if an > 0 && string(abuf[:an]) != string(bbuf[:bn]) {
			return false, nil
		}
		aDone := aerr == io.EOF || aerr == io.ErrUnexpectedEOF
		bDone := berr == io.EOF || berr == io.ErrUnexpectedEOF
		if aDone != bDone {
			return false, nil
		}
		if aDone {
			return true, nil
		}
		if aerr != nil {
			return false, fmt.Errorf("resource: comparing variant bytes: %w", aerr)
		}
		if berr != nil {
			return false, fmt.Errorf("resource: comparing candidate bytes: %w", berr)
		}
	}
}

// Fsck verifies invariants 1-3 against this resource's directory.
// Acquiring the resource's own lock (shared for a read-only check,
// exclusive when repair is non-nil) is the caller's responsibility via
// dirlock, matching the fact that fsck's locking scope is a directory,
// not a resource object.
func (r *Resource) Fsck(issues *[]fsck.Issue, repair *fsck.RepairSet) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: r.Dir, Message: "cannot list resource directory", Cause: err})
		return
	}

	var originals []string
	var maxW, maxH int

	for _, e := range entries {
		name := e.Name()
		switch {
		case name == lockName:
			continue
		case strings.HasPrefix(name, "original."):
			originals = append(originals, name)
		case strings.HasSuffix(name, ".new"):
			if repair != nil {
				p := filepath.Join(r.Dir, name)
				if err := os.RemoveAll(p); err != nil {
					*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: p, Message: "failed to remove stray staging file", Cause: err})
				} else {
					*issues = append(*issues, fsck.Issue{Severity: fsck.Info, Path: p, Message: "removed stray *.new staging file"})
					repair.Add(r.Dir)
				}
			} else {
				*issues = append(*issues, fsck.Issue{Severity: fsck.Warning, Path: filepath.Join(r.Dir, name), Message: "stray *.new staging file present"})
			}
		default:
			ext := strings.TrimPrefix(filepath.Ext(name), ".")
			ct, ok := content.ByExtension(ext)
			if !ok {
				*issues = append(*issues, fsck.Issue{Severity: fsck.Warning, Path: filepath.Join(r.Dir, name), Message: "entry does not match any known content type"})
				continue
			}
			w, h, err := ct.ParseFilenameDimensions(name)
			if err != nil {
				*issues = append(*issues, fsck.Issue{Severity: fsck.Warning, Path: filepath.Join(r.Dir, name), Message: "variant filename does not parse", Cause: err})
				continue
			}
			if w > maxW {
				maxW = w
			}
			if h > maxH {
				maxH = h
			}
		}
	}

	switch len(originals) {
	case 0:
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: r.Dir, Message: "missing original.<ext> entry (invariant 1)"})
	case 1:
		r.fsckOriginal(issues, originals[0], maxW, maxH)
	default:
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: r.Dir, Message: fmt.Sprintf("found %d original.* entries, expected exactly 1 (invariant 1)", len(originals))})
	}
}

func (r *Resource) fsckOriginal(issues *[]fsck.Issue, name string, maxW, maxH int) {
	link := filepath.Join(r.Dir, name)
	info, err := os.Lstat(link)
	if err != nil {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: link, Message: "cannot stat original entry", Cause: err})
		return
	}
	if info.Mode()&os.ModeSymlink == 0 {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: link, Message: "original.<ext> is not a symbolic link (invariant 1)"})
		return
	}
	target, err := os.Readlink(link)
	if err != nil {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: link, Message: "cannot read original symlink", Cause: err})
		return
	}
	targetPath := target
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(r.Dir, target)
	}
	if _, err := os.Stat(targetPath); err != nil {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: link, Message: "original symlink target does not exist (invariant 1)", Cause: err})
		return
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if !strings.HasSuffix(targetPath, "."+ext) {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: link, Message: "original symlink target extension does not match original.<ext> (invariant 1)"})
	}

	ct, ok := content.ByExtension(ext)
	if !ok {
		return
	}
	ow, oh, err := ct.ParseFilenameDimensions(filepath.Base(targetPath))
	if err != nil {
		return
	}
	if maxW > ow || maxH > oh {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: r.Dir, Message: "a variant exceeds the original's dimensions (invariant 3)"})
	}
}
