// Package store implements the resources root: identifier allocation,
// the deposit (add-new-resource) protocol, lookup, traversal, and the
// tree-wide integrity check.
package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ao-apps/ao-cdn-data/internal/cdnerr"
	"github.com/ao-apps/ao-cdn-data/internal/content"
	"github.com/ao-apps/ao-cdn-data/internal/dirlock"
	"github.com/ao-apps/ao-cdn-data/internal/fsck"
	"github.com/ao-apps/ao-cdn-data/internal/naming"
	"github.com/ao-apps/ao-cdn-data/internal/resource"
	"github.com/ao-apps/ao-cdn-data/lib/logger"
	lrand "github.com/ao-apps/ao-cdn-data/lib/rand"
	lsync "github.com/ao-apps/ao-cdn-data/lib/sync"
	"github.com/ao-apps/ao-cdn-data/lib/osutil"
)

var l = logger.DefaultLogger.NewFacility("store", "resources-root operations")

const dirPerm = 0o750

// Store owns the resources root directory: the two levels of hash
// directories, the resource directories beneath them, and the root-level
// lock that serialises identifier allocation and commit.
type Store struct {
	Root string

	allocMu lsync.Mutex

	// Notify, Scaler, and Metrics are threaded through to every Resource
	// this Store hands back, so callers never have to wire them up
	// themselves.
	Notify  resource.Notifier
	Scaler  resource.Scaler
	Metrics resource.Metrics
}

func New(root string) *Store {
	return &Store{Root: root, allocMu: lsync.NewMutex()}
}

func (s *Store) newResource(id naming.ResourceId, dir string) *resource.Resource {
	r := resource.New(id, dir)
	r.Notify = s.Notify
	r.Scaler = s.Scaler
	r.Metrics = s.Metrics
	return r
}

// Lookup composes the three directory names from id and returns the
// Resource if every level resolves to a directory. A missing level
// returns (nil, false, nil); a non-directory where a directory was
// expected is reported as a WARNING and also returns (nil, false, nil).
func (s *Store) Lookup(id naming.ResourceId) (*resource.Resource, bool, error) {
	hash1 := filepath.Join(s.Root, naming.Hash1Dir(id))
	if ok, err := isDir(hash1); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, nil
	}

	hash2 := filepath.Join(hash1, naming.Hash2Dir(id))
	if ok, err := isDir(hash2); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, nil
	}

	resDir := filepath.Join(hash2, naming.ResourceDir(id))
	if ok, err := isDir(resDir); err != nil {
		return nil, false, err
	} else if !ok {
		return nil, false, nil
	}

	return s.newResource(id, resDir), true, nil
}

// isDir reports whether path exists and is a directory. A non-directory
// entry is logged at WARNING and treated as absent by the caller.
func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, cdnerr.Wrap(cdnerr.Io, path, "failed to stat directory level", err)
	}
	if !info.IsDir() {
		l.Warnln("expected a directory, found a non-directory entry:", path)
		return false, nil
	}
	return true, nil
}

// AddNewResource runs the deposit protocol: it allocates a fresh
// identifier, stages the candidate file into "<resource>.new/", commits
// it by rename, and notifies the replicator. candidatePath is consumed:
// on success it no longer exists at its original location.
func (s *Store) AddNewResource(ctx context.Context, candidatePath string, candidateSize int64, declaredType content.Type) (*resource.Resource, error) {
	rootLock, err := dirlock.Acquire(s.Root, false)
	if err != nil {
		return nil, err
	}
	defer rootLock.Release()

	id, resDir, newDir, syncPath, err := s.allocate()
	if err != nil {
		return nil, err
	}

	w, h, err := declaredType.DecodeDimensions(candidatePath)
	if err != nil {
		return nil, cdnerr.Wrap(cdnerr.BadArgument, candidatePath, "failed to probe dimensions of candidate file", err)
	}
	canonicalName := declaredType.CanonicalFilename(w, h)
	committedPath := filepath.Join(newDir, canonicalName)

	if err := osutil.RenameOrCopy(candidatePath, committedPath); err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, committedPath, "failed to stage candidate file", err)
	}

	linkPath := filepath.Join(newDir, declaredType.OriginalLinkName())
	if err := os.Symlink(canonicalName, linkPath); err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, linkPath, "failed to create original symlink", err)
	}

	info, err := os.Stat(committedPath)
	if err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, committedPath, "failed to re-stat staged file", err)
	}
	if info.Size() != candidateSize {
		return nil, cdnerr.New(cdnerr.ConcurrentModification, committedPath,
			"staged file size no longer matches the size observed by the caller")
	}

	if err := os.Rename(newDir, resDir); err != nil {
		return nil, cdnerr.Wrap(cdnerr.Io, resDir, "failed to commit staged resource directory", err)
	}

	if err := rootLock.Release(); err != nil {
		return nil, err
	}

	if s.Notify != nil {
		s.Notify(syncPath)
	}

	return s.newResource(id, resDir), nil
}

// allocate runs the identifier-allocation loop under the process-wide
// allocation mutex: generate a random id, create any missing hash
// directories, and claim a staging directory for the resource. It
// returns the committed resource directory, the staging directory that
// was created for it, and the highest ancestor path that was newly
// created (the path the replicator needs to learn about).
func (s *Store) allocate() (id naming.ResourceId, resDir, newDir, syncPath string, err error) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	for {
		id = naming.ResourceId(lrand.Uint64())
		syncPath = ""

		hash1 := filepath.Join(s.Root, naming.Hash1Dir(id))
		ok, restart, serr := claimDir(hash1)
		if serr != nil {
			return 0, "", "", "", serr
		}
		if restart {
			continue
		}
		if ok {
			syncPath = hash1
		}

		hash2 := filepath.Join(hash1, naming.Hash2Dir(id))
		ok, restart, serr = claimDir(hash2)
		if serr != nil {
			return 0, "", "", "", serr
		}
		if restart {
			continue
		}
		if ok && syncPath == "" {
			syncPath = hash2
		}

		resDir = filepath.Join(hash2, naming.ResourceDir(id))
		newDir = resDir + ".new"

		if exists(resDir) || exists(newDir) {
			l.Infoln("resource directory collision, retrying allocation:", resDir)
			continue
		}
		if err := os.Mkdir(newDir, dirPerm); err != nil {
			return 0, "", "", "", cdnerr.Wrap(cdnerr.Io, newDir, "failed to create staging directory", err)
		}
		if syncPath == "" {
			syncPath = resDir
		}
		return id, resDir, newDir, syncPath, nil
	}
}

// claimDir ensures dir exists, creating it if absent. ok reports whether
// dir was newly created; restart reports that the caller hit a
// non-directory collision and must regenerate its identifier.
func claimDir(dir string) (ok, restart bool, err error) {
	info, statErr := os.Stat(dir)
	switch {
	case os.IsNotExist(statErr):
		if mkErr := os.Mkdir(dir, dirPerm); mkErr != nil {
			if os.IsExist(mkErr) {
				// Lost a race with a concurrent allocator in this same
				// process or peer; the directory exists now, proceed.
				return false, false, nil
			}
			return false, false, cdnerr.Wrap(cdnerr.Io, dir, "failed to create hash directory", mkErr)
		}
		return true, false, nil
	case statErr != nil:
		return false, false, cdnerr.Wrap(cdnerr.Io, dir, "failed to stat hash directory", statErr)
	case !info.IsDir():
		l.Warnln("expected a directory, found a non-directory entry, restarting allocation:", dir)
		return false, true, nil
	default:
		return false, false, nil
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Iterate returns a pull-based iterator over every committed resource:
// calling the returned function repeatedly yields one Resource at a
// time, false once exhausted. Callers that stop early never pay for
// listing the rest of the tree.
func (s *Store) Iterate() func() (*resource.Resource, bool, error) {
	results := make(chan iterResult)
	done := make(chan struct{})
	go func() {
		defer close(results)
		s.walk(results, done)
	}()

	return func() (*resource.Resource, bool, error) {
		res, ok := <-results
		if !ok {
			return nil, false, nil
		}
		if res.err != nil {
			close(done)
			return nil, false, res.err
		}
		return res.r, true, nil
	}
}

type iterResult struct {
	r   *resource.Resource
	err error
}

func (s *Store) walk(out chan<- iterResult, done <-chan struct{}) {
	hash1Entries, err := os.ReadDir(s.Root)
	if err != nil {
		select {
		case out <- iterResult{err: cdnerr.Wrap(cdnerr.Io, s.Root, "failed to list resources root", err)}:
		case <-done:
		}
		return
	}

	for _, h1 := range hash1Entries {
		if !h1.IsDir() {
			continue
		}
		if _, err := naming.ParseHash1(h1.Name()); err != nil {
			l.Warnln("skipping unparseable hash1 directory:", h1.Name())
			continue
		}
		hash1Path := filepath.Join(s.Root, h1.Name())

		hash2Entries, err := os.ReadDir(hash1Path)
		if err != nil {
			l.Warnln("failed to list hash1 directory, skipping:", hash1Path, err)
			continue
		}
		for _, h2 := range hash2Entries {
			if !h2.IsDir() {
				continue
			}
			if _, err := naming.ParseHash2(h2.Name()); err != nil {
				l.Warnln("skipping unparseable hash2 directory:", h2.Name())
				continue
			}
			hash2Path := filepath.Join(hash1Path, h2.Name())

			resEntries, err := os.ReadDir(hash2Path)
			if err != nil {
				l.Warnln("failed to list hash2 directory, skipping:", hash2Path, err)
				continue
			}
			for _, re := range resEntries {
				if !re.IsDir() || naming.IsNewResourceDirName(re.Name()) {
					continue
				}
				id, err := naming.ParseId(h1.Name(), h2.Name(), re.Name())
				if err != nil {
					l.Warnln("skipping unparseable resource directory:", re.Name())
					continue
				}
				r := s.newResource(id, filepath.Join(hash2Path, re.Name()))
				select {
				case out <- iterResult{r: r}:
				case <-done:
					return
				}
			}
		}
	}
}

// FsckAll walks the whole resources tree, checking every resource via
// Resource.Fsck. When repair is non-nil, empty hash directories left
// behind by prior crashes are removed and recorded in repair.
func (s *Store) FsckAll(issues *[]fsck.Issue, repair *fsck.RepairSet) error {
	lock, err := dirlock.Acquire(s.Root, repair == nil)
	if err != nil {
		return err
	}
	defer lock.Release()

	hash1Entries, err := os.ReadDir(s.Root)
	if err != nil {
		return cdnerr.Wrap(cdnerr.Io, s.Root, "failed to list resources root", err)
	}

	for _, h1 := range hash1Entries {
		name := h1.Name()
		if name == filepath.Base(dirlock.SentinelPath(s.Root)) {
			continue
		}
		if !h1.IsDir() {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Warning, Path: filepath.Join(s.Root, name), Message: "unexpected non-directory entry at hash1 level"})
			continue
		}
		if _, err := naming.ParseHash1(name); err != nil {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: filepath.Join(s.Root, name), Message: "hash1 directory name does not parse as 4 lower-case hex characters (invariant 4)"})
			continue
		}
		s.fsckHash1(filepath.Join(s.Root, name), issues, repair)
	}
	return nil
}

func (s *Store) fsckHash1(hash1Path string, issues *[]fsck.Issue, repair *fsck.RepairSet) {
	entries, err := os.ReadDir(hash1Path)
	if err != nil {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: hash1Path, Message: "cannot list hash1 directory", Cause: err})
		return
	}
	if len(entries) == 0 && repair != nil {
		if err := os.Remove(hash1Path); err == nil {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Info, Path: hash1Path, Message: "removed empty hash1 directory"})
			repair.Add(filepath.Dir(hash1Path))
		}
		return
	}
	for _, h2 := range entries {
		if !h2.IsDir() {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Warning, Path: filepath.Join(hash1Path, h2.Name()), Message: "unexpected non-directory entry at hash2 level"})
			continue
		}
		if _, err := naming.ParseHash2(h2.Name()); err != nil {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: filepath.Join(hash1Path, h2.Name()), Message: "hash2 directory name does not parse as 8 lower-case hex characters (invariant 4)"})
			continue
		}
		s.fsckHash2(filepath.Join(hash1Path, h2.Name()), issues, repair)
	}
}

func (s *Store) fsckHash2(hash2Path string, issues *[]fsck.Issue, repair *fsck.RepairSet) {
	entries, err := os.ReadDir(hash2Path)
	if err != nil {
		*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: hash2Path, Message: "cannot list hash2 directory", Cause: err})
		return
	}
	if len(entries) == 0 && repair != nil {
		if err := os.Remove(hash2Path); err == nil {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Info, Path: hash2Path, Message: "removed empty hash2 directory"})
			repair.Add(filepath.Dir(hash2Path))
		}
		return
	}
	for _, re := range entries {
		name := re.Name()
		if naming.IsNewResourceDirName(name) {
			if repair != nil {
				p := filepath.Join(hash2Path, name)
				if err := os.RemoveAll(p); err != nil {
					*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: p, Message: "failed to remove crashed staging directory (invariant 5)", Cause: err})
				} else {
					*issues = append(*issues, fsck.Issue{Severity: fsck.Info, Path: p, Message: "removed crashed staging directory (invariant 5)"})
					repair.Add(hash2Path)
				}
			} else {
				*issues = append(*issues, fsck.Issue{Severity: fsck.Warning, Path: filepath.Join(hash2Path, name), Message: "crashed or in-progress staging directory present (invariant 5)"})
			}
			continue
		}
		if !re.IsDir() {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Warning, Path: filepath.Join(hash2Path, name), Message: "unexpected non-directory entry at resource level"})
			continue
		}
		if _, err := naming.ParseResource(name); err != nil {
			*issues = append(*issues, fsck.Issue{Severity: fsck.Severe, Path: filepath.Join(hash2Path, name), Message: "resource directory name does not parse as 4 lower-case hex characters (invariant 4)"})
			continue
		}
		r := resource.New(0, filepath.Join(hash2Path, name))
		r.Fsck(issues, repair)
	}
}
