package engine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ao-apps/ao-cdn-data/internal/content"
	"github.com/ao-apps/ao-cdn-data/internal/replicator"
	"github.com/ao-apps/ao-cdn-data/lib/metrics"
)

func bootTestEngine(t *testing.T) (*CdnData, *replicator.RecordingReplicator) {
	t.Helper()
	rec := &replicator.RecordingReplicator{}
	e, err := Boot(context.Background(), Config{
		Root:            t.TempDir(),
		Uploader:        true,
		Replicator:      rec,
		ReplicatorGroup: "media",
	})
	if err != nil {
		t.Fatal(err)
	}
	return e, rec
}

func writePNG(t *testing.T, path string) int64 {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return int64(buf.Len())
}

func TestBootCreatesLayout(t *testing.T) {
	e, _ := bootTestEngine(t)
	if _, err := os.Stat(filepath.Join(e.cfg.Root, "resources")); err != nil {
		t.Errorf("resources dir missing: %v", err)
	}
	if _, err := os.Stat(e.uploadsDir); err != nil {
		t.Errorf("uploads dir missing: %v", err)
	}
}

func TestBootFailsOnUnrepairableCorruption(t *testing.T) {
	root := t.TempDir()
	resourcesDir := filepath.Join(root, "resources")
	if err := os.MkdirAll(resourcesDir, 0o750); err != nil {
		t.Fatal(err)
	}
	// A hash1-level entry with an invalid (non-hex) name cannot be healed
	// by repair; it must surface as a fatal startup error.
	if err := os.MkdirAll(filepath.Join(resourcesDir, "zzzz"), 0o750); err != nil {
		t.Fatal(err)
	}

	_, err := Boot(context.Background(), Config{Root: root})
	if err == nil {
		t.Fatal("expected boot to fail on an unrepairable hash1 directory name")
	}
}

func TestFindOrAddDepositsNewUpload(t *testing.T) {
	e, rec := bootTestEngine(t)

	h, err := e.NewUpload(content.PNG)
	if err != nil {
		t.Fatal(err)
	}
	writePNG(t, h.Path())

	r, v, err := e.FindOrAdd(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if v.Width != 2 || v.Height != 2 {
		t.Errorf("got %dx%d, want 2x2", v.Width, v.Height)
	}
	if _, ok, err := e.Store.Lookup(r.ID); err != nil || !ok {
		t.Error("expected the new resource to be findable")
	}
	_ = rec
}

func TestFindOrAddDeduplicatesIdenticalUpload(t *testing.T) {
	e, _ := bootTestEngine(t)

	h1, err := e.NewUpload(content.PNG)
	if err != nil {
		t.Fatal(err)
	}
	writePNG(t, h1.Path())
	r1, _, err := e.FindOrAdd(context.Background(), h1)
	if err != nil {
		t.Fatal(err)
	}

	h2, err := e.NewUpload(content.PNG)
	if err != nil {
		t.Fatal(err)
	}
	writePNG(t, h2.Path())
	r2, _, err := e.FindOrAdd(context.Background(), h2)
	if err != nil {
		t.Fatal(err)
	}

	if r1.Dir != r2.Dir {
		t.Errorf("identical uploads should dedup to the same resource, got %s and %s", r1.Dir, r2.Dir)
	}
	if _, err := os.Stat(h2.Path()); !os.IsNotExist(err) {
		t.Errorf("deduplicated upload file should have been removed")
	}
}

func TestMetricsCountDepositsAndDedups(t *testing.T) {
	reg := metrics.New()
	e, err := Boot(context.Background(), Config{
		Root:     t.TempDir(),
		Uploader: true,
		Metrics:  reg,
	})
	if err != nil {
		t.Fatal(err)
	}

	h1, err := e.NewUpload(content.PNG)
	if err != nil {
		t.Fatal(err)
	}
	writePNG(t, h1.Path())
	if _, _, err := e.FindOrAdd(context.Background(), h1); err != nil {
		t.Fatal(err)
	}
	if got := reg.Count("cdn_deposits_total"); got != 1 {
		t.Errorf("cdn_deposits_total = %d, want 1", got)
	}

	h2, err := e.NewUpload(content.PNG)
	if err != nil {
		t.Fatal(err)
	}
	writePNG(t, h2.Path())
	if _, _, err := e.FindOrAdd(context.Background(), h2); err != nil {
		t.Fatal(err)
	}
	if got := reg.Count("cdn_dedup_hits_total"); got != 1 {
		t.Errorf("cdn_dedup_hits_total = %d, want 1", got)
	}
	if got := reg.Count("cdn_deposits_total"); got != 1 {
		t.Errorf("cdn_deposits_total = %d, want still 1 after a dedup hit", got)
	}
}

func TestFindOrAddRejectsReuseOfConsumedHandle(t *testing.T) {
	e, _ := bootTestEngine(t)

	h, err := e.NewUpload(content.PNG)
	if err != nil {
		t.Fatal(err)
	}
	writePNG(t, h.Path())
	if _, _, err := e.FindOrAdd(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.FindOrAdd(context.Background(), h); err == nil {
		t.Fatal("expected an error reusing an already-consumed handle")
	}
}

func TestFindOrAddRejectsSniffedTypeMismatch(t *testing.T) {
	e, _ := bootTestEngine(t)

	h, err := e.NewUpload(content.GIF)
	if err != nil {
		t.Fatal(err)
	}
	writePNG(t, h.Path())

	if _, _, err := e.FindOrAdd(context.Background(), h); err == nil {
		t.Fatal("expected an error depositing PNG bytes declared as GIF")
	}
}

// verifySniffedType and verifyProbedExtensionType are the two
// independent probes behind verifyDeclaredType. FindOrAdd's own
// extension-vs-declared-type check always keeps an upload's filename
// extension in step with its declared type, so these are exercised
// directly here to confirm each probe independently rejects a
// contradiction rather than only ever seeing agreement.
func TestVerifySniffedTypeRejectsContradiction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.gif")
	writePNG(t, path)

	if err := verifySniffedType(path, content.GIF); err == nil {
		t.Fatal("expected the sniffed PNG header to contradict a declared GIF")
	}
	if err := verifySniffedType(path, content.PNG); err != nil {
		t.Errorf("sniffed PNG header should agree with a declared PNG, got %v", err)
	}
}

func TestVerifyProbedExtensionTypeRejectsContradiction(t *testing.T) {
	dir := t.TempDir()

	mismatched := filepath.Join(dir, "variant.png")
	if err := os.WriteFile(mismatched, []byte("irrelevant"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyProbedExtensionType(mismatched, content.GIF); err == nil {
		t.Fatal("expected a .png path to contradict a declared GIF")
	}

	agreeing := filepath.Join(dir, "variant.gif")
	if err := os.WriteFile(agreeing, []byte("irrelevant"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyProbedExtensionType(agreeing, content.GIF); err != nil {
		t.Errorf("a .gif path should agree with a declared GIF, got %v", err)
	}

	inconclusive := filepath.Join(dir, "variant.unknownext")
	if err := os.WriteFile(inconclusive, []byte("irrelevant"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyProbedExtensionType(inconclusive, content.GIF); err != nil {
		t.Errorf("an unrecognised extension should be accepted as inconclusive, got %v", err)
	}
}
