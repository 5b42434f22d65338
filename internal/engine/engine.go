// Package engine assembles the store, the uploads area, startup
// integrity checking, and the replication queue into one bootable
// CdnData instance: the top-level entry point the rest of this module
// is built around.
package engine

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/thejerf/suture/v4"

	"github.com/ao-apps/ao-cdn-data/internal/cdnerr"
	"github.com/ao-apps/ao-cdn-data/internal/content"
	"github.com/ao-apps/ao-cdn-data/internal/fsck"
	"github.com/ao-apps/ao-cdn-data/internal/replicator"
	"github.com/ao-apps/ao-cdn-data/internal/resource"
	"github.com/ao-apps/ao-cdn-data/internal/store"
	"github.com/ao-apps/ao-cdn-data/lib/diskusage"
	"github.com/ao-apps/ao-cdn-data/lib/logger"
	"github.com/ao-apps/ao-cdn-data/lib/metrics"
	lrand "github.com/ao-apps/ao-cdn-data/lib/rand"
)

// lowFreeSpaceFraction is the threshold below which Boot logs a WARNING
// about the engine root's filesystem: deposits and scale renders both
// need headroom to stage a new file before it's renamed into place.
const lowFreeSpaceFraction = 0.05

var l = logger.DefaultLogger.NewFacility("engine", "top-level boot and deposit orchestration")

const (
	rootPerm    = 0o750
	uploadsPerm = 0o750
)

// Config is the engine's plain Go configuration, deliberately not
// YAML-aware; cmd/cdndata is responsible for turning a config file into
// this struct.
type Config struct {
	Root     string
	Uploader bool

	// Replicator defaults to a no-op RecordingReplicator when nil, which
	// is convenient for tests and for peers with no replication group.
	Replicator      replicator.Replicator
	ReplicatorGroup string

	// Scaler defaults to resource.DefaultScaler when nil.
	Scaler resource.Scaler

	// Metrics records deposit, dedup, scale, fsck, and replicator counts
	// when set; a nil Metrics disables counting entirely.
	Metrics *metrics.Registry
}

// CdnData is the booted engine: a resources Store, an optional uploads
// directory, and a background replication queue.
type CdnData struct {
	cfg        Config
	uploadsDir string

	Store      *store.Store
	Supervisor *suture.Supervisor

	queue *replicationQueue
}

// Boot creates the root directory tree (if needed), constructs the
// store and, for uploader peers, the uploads area, then runs a startup
// integrity check with repair. Any SEVERE issue remaining after repair
// is fatal.
func Boot(ctx context.Context, cfg Config) (*CdnData, error) {
	if cfg.Root == "" {
		return nil, cdnerr.New(cdnerr.BadArgument, "", "engine root must not be empty")
	}
	if cfg.Replicator == nil {
		cfg.Replicator = &replicator.RecordingReplicator{}
	}
	if cfg.Scaler == nil {
		cfg.Scaler = resource.DefaultScaler{}
	}

	if err := os.MkdirAll(cfg.Root, rootPerm); err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, cfg.Root, "failed to create engine root", err)
	}

	resourcesDir := filepath.Join(cfg.Root, "resources")
	if err := os.MkdirAll(resourcesDir, rootPerm); err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, resourcesDir, "failed to create resources root", err)
	}

	var uploadsDir string
	if cfg.Uploader {
		uploadsDir = filepath.Join(cfg.Root, "uploads")
		if err := os.MkdirAll(uploadsDir, uploadsPerm); err != nil {
			return nil, cdnerr.Wrap(cdnerr.Io, uploadsDir, "failed to create uploads directory", err)
		}
	}

	sup := suture.NewSimple("cdndata")
	queue := newReplicationQueue(cfg.Replicator, cfg.ReplicatorGroup, cfg.Metrics)
	sup.Add(queue)

	st := store.New(resourcesDir)
	st.Notify = queue.enqueue
	st.Scaler = cfg.Scaler
	if cfg.Metrics != nil {
		st.Metrics = cfg.Metrics
	}

	e := &CdnData{
		cfg:        cfg,
		uploadsDir: uploadsDir,
		Store:      st,
		Supervisor: sup,
		queue:      queue,
	}

	repair := fsck.NewRepairSet()
	var issues []fsck.Issue
	if err := st.FsckAll(&issues, repair); err != nil {
		return nil, err
	}
	for _, iss := range issues {
		l.Warnln(iss.String())
	}
	if cfg.Metrics != nil {
		for range issues {
			cfg.Metrics.FsckIssue()
		}
	}
	if n := fsck.CountSevere(issues); n > 0 {
		return nil, cdnerr.New(cdnerr.FsckSevere, cfg.Root, fmt.Sprintf("startup fsck found %d severe issue(s)", n))
	}
	if paths := repair.Paths(); len(paths) > 0 {
		queue.enqueue(paths...)
	}

	if frac := diskusage.FreeFraction(cfg.Root); frac > 0 && frac < lowFreeSpaceFraction {
		l.Warnln("low free space on engine root, deposits and scale renders may start failing:", cfg.Root, frac)
	}

	return e, nil
}

// Run drains the background replication queue until ctx is cancelled.
// Callers typically invoke this in its own goroutine right after Boot.
func (e *CdnData) Run(ctx context.Context) error {
	return e.Supervisor.Serve(ctx)
}

// UploadHandle is a transient, at-most-once-consumable upload, tagged
// with the content type the caller declared for it.
type UploadHandle struct {
	engine       *CdnData
	path         string
	declaredType content.Type
	consumed     bool
}

func (h *UploadHandle) Path() string       { return h.path }
func (h *UploadHandle) Type() content.Type { return h.declaredType }

// NewUpload creates a fresh upload file in the uploads/ area and returns
// a handle to it. The caller writes the candidate's bytes to Path()
// before handing the handle to FindOrAdd.
func (e *CdnData) NewUpload(declaredType content.Type) (*UploadHandle, error) {
	if e.uploadsDir == "" {
		return nil, cdnerr.New(cdnerr.BadArgument, "", "this peer is not configured as an uploader")
	}
	name := lrand.String(24) + "." + declaredType.Extension()
	path := filepath.Join(e.uploadsDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, path, "failed to create upload file", err)
	}
	f.Close()
	return &UploadHandle{engine: e, path: path, declaredType: declaredType}, nil
}

// FindOrAdd implements deposit-with-dedup: it sweeps every resource
// whose original content type matches the handle's declared type for a
// byte-identical match before falling back to Store.AddNewResource.
func (e *CdnData) FindOrAdd(ctx context.Context, h *UploadHandle) (*resource.Resource, resource.Variant, error) {
	if h.engine != e {
		return nil, resource.Variant{}, cdnerr.New(cdnerr.BadArgument, h.path, "upload handle belongs to a different engine instance")
	}
	if h.consumed {
		return nil, resource.Variant{}, cdnerr.New(cdnerr.BadArgument, h.path, "upload handle already consumed")
	}

	ext := filepath.Ext(h.path)
	if ext != "."+h.declaredType.Extension() {
		return nil, resource.Variant{}, cdnerr.New(cdnerr.BadArgument, h.path, "upload file extension does not match its declared content type")
	}

	info, err := os.Stat(h.path)
	if err != nil {
		return nil, resource.Variant{}, cdnerr.Wrap(cdnerr.Io, h.path, "failed to stat upload file", err)
	}
	if !info.Mode().IsRegular() {
		return nil, resource.Variant{}, cdnerr.New(cdnerr.BadArgument, h.path, "upload is not a regular file")
	}

	if err := verifyDeclaredType(h.path, h.declaredType); err != nil {
		return nil, resource.Variant{}, err
	}

	h.consumed = true

	openCandidate := func() (io.Reader, error) { return os.Open(h.path) }

	next := e.Store.Iterate()
	for {
		r, ok, err := next()
		if err != nil {
			return nil, resource.Variant{}, err
		}
		if !ok {
			break
		}
		oct, err := r.OriginalContentType()
		if err != nil || oct.Extension() != h.declaredType.Extension() {
			continue
		}
		v, found, err := r.FindVariantByBytes(openCandidate, info.Size(), h.declaredType)
		if err != nil {
			return nil, resource.Variant{}, err
		}
		if found {
			if err := os.Remove(h.path); err != nil {
				l.Warnln("failed to remove deduplicated upload file:", h.path, err)
			}
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.DedupHit()
			}
			return r, v, nil
		}
	}

	return e.depositNew(h, info.Size())
}

func (e *CdnData) depositNew(h *UploadHandle, size int64) (*resource.Resource, resource.Variant, error) {
	r, err := e.Store.AddNewResource(context.Background(), h.path, size, h.declaredType)
	if err != nil {
		return nil, resource.Variant{}, err
	}
	v, err := r.Original()
	if err != nil {
		return nil, resource.Variant{}, err
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.DepositAdded()
	}
	return r, v, nil
}

// verifyDeclaredType runs the two independent probes spec.md §4.6 step 2
// calls for — a content sniff of the file's bytes, then a filesystem
// probe of its extension against the OS/mime.types MIME database — and
// requires declared to agree with whichever of the two is conclusive. A
// probe that comes back inconclusive is accepted; only an actively
// contradicting probe rejects the declaration.
func verifyDeclaredType(path string, declared content.Type) error {
	if err := verifySniffedType(path, declared); err != nil {
		return err
	}
	return verifyProbedExtensionType(path, declared)
}

// verifySniffedType reads the first 512 bytes of path and, when
// http.DetectContentType returns a MIME this registry recognises,
// requires it to agree with declared.
func verifySniffedType(path string, declared content.Type) error {
	f, err := os.Open(path)
	if err != nil {
		return cdnerr.Wrap(cdnerr.Io, path, "failed to open upload file for sniffing", err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil
	}
	sniffed := http.DetectContentType(buf[:n])
	ct, ok := content.ByMIME(sniffed)
	if !ok {
		return nil
	}
	if ct.Extension() != declared.Extension() {
		return cdnerr.New(cdnerr.BadArgument, path, fmt.Sprintf("sniffed content type %q contradicts declared type %q", sniffed, declared.MIME()))
	}
	return nil
}

// verifyProbedExtensionType is the second, independent probe: it
// consults the filesystem's own extension-to-MIME database (mime.types,
// the same table a Files.probeContentType-style call would read) rather
// than looking at the file's bytes at all, and requires that answer to
// agree with declared when it is conclusive.
func verifyProbedExtensionType(path string, declared content.Type) error {
	probed := mime.TypeByExtension(filepath.Ext(path))
	if probed == "" {
		return nil
	}
	ct, ok := content.ByMIME(probed)
	if !ok {
		return nil
	}
	if ct.Extension() != declared.Extension() {
		return cdnerr.New(cdnerr.BadArgument, path, fmt.Sprintf("filesystem-probed content type %q contradicts declared type %q", probed, declared.MIME()))
	}
	return nil
}
