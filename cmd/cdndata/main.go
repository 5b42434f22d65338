// Command cdndata is the reference CLI for the content-addressed media
// store: boot a peer, deposit files into it, request scaled variants,
// and run integrity checks, all against the YAML configuration file
// described by internal/config.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/ao-apps/ao-cdn-data/internal/config"
	"github.com/ao-apps/ao-cdn-data/internal/content"
	"github.com/ao-apps/ao-cdn-data/internal/engine"
	"github.com/ao-apps/ao-cdn-data/internal/fsck"
	"github.com/ao-apps/ao-cdn-data/internal/naming"
	"github.com/ao-apps/ao-cdn-data/internal/replicator"
	_ "github.com/ao-apps/ao-cdn-data/lib/automaxprocs"
	"github.com/ao-apps/ao-cdn-data/lib/logger"
	"github.com/ao-apps/ao-cdn-data/lib/metrics"
)

var l = logger.DefaultLogger

type cli struct {
	Config string `name:"config" short:"c" default:"/etc/cdndata/cdndata.yaml" help:"Path to the YAML configuration file."`

	Serve   serveCmd   `cmd:"" help:"Boot the engine and serve until interrupted."`
	Deposit depositCmd `cmd:"" help:"Deposit a file, deduplicating against existing resources."`
	Scale   scaleCmd   `cmd:"" help:"Request a scaled variant of a resource."`
	Lookup  lookupCmd  `cmd:"" help:"Resolve a resource identifier to a directory."`
	Fsck    fsckCmd    `cmd:"" help:"Run an integrity check against the resources tree."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c)
	cfg, err := config.Load(c.Config)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	kctx.FatalIfErrorf(kctx.Run(cfg))
}

func bootEngine(ctx context.Context, cfg *config.Config, uploader bool) (*engine.CdnData, *metrics.Registry, error) {
	var repl replicator.Replicator
	if cfg.Replicator.Group != "" {
		repl = replicator.CSync2Replicator{Binary: cfg.Replicator.Binary}
	}
	reg := metrics.New()
	e, err := engine.Boot(ctx, engine.Config{
		Root:            cfg.Root,
		Uploader:        uploader || cfg.Uploader,
		Replicator:      repl,
		ReplicatorGroup: cfg.Replicator.Group,
		Metrics:         reg,
	})
	return e, reg, err
}

type serveCmd struct {
	Metrics string `name:"metrics-addr" default:":8222" help:"Address to serve Prometheus metrics on."`
}

func (s *serveCmd) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, reg, err := bootEngine(ctx, cfg, cfg.Uploader)
	if err != nil {
		return err
	}

	metricsSrv := &http.Server{Addr: s.Metrics, Handler: reg.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Warnln("metrics server stopped:", err)
		}
	}()

	l.Infoln("cdndata booted, root:", cfg.Root)
	return e.Run(ctx)
}

type depositCmd struct {
	File string `arg:"" help:"Path to the file to deposit."`
	Type string `help:"Declared content type extension (jpg, png, gif); inferred from the file's extension when omitted."`
}

func (d *depositCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	e, _, err := bootEngine(ctx, cfg, true)
	if err != nil {
		return err
	}

	ext := d.Type
	if ext == "" {
		ext = extOf(d.File)
	}
	ct, ok := content.ByExtension(ext)
	if !ok {
		return fmt.Errorf("unrecognized content type extension %q", ext)
	}

	h, err := e.NewUpload(ct)
	if err != nil {
		return err
	}
	if err := copyFile(d.File, h.Path()); err != nil {
		return err
	}

	r, v, err := e.FindOrAdd(ctx, h)
	if err != nil {
		return err
	}
	fmt.Printf("%s %dx%d %s\n", naming.Format(r.ID), v.Width, v.Height, v.Path)
	return nil
}

type scaleCmd struct {
	ID     string `arg:"" help:"Resource identifier, 16 lower-case hex characters."`
	Width  *int   `help:"Target width."`
	Height *int   `help:"Target height."`
}

func (s *scaleCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	e, _, err := bootEngine(ctx, cfg, false)
	if err != nil {
		return err
	}

	id, err := naming.ParseFormatted(s.ID)
	if err != nil {
		return err
	}
	r, ok, err := e.Store.Lookup(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no such resource: %s", s.ID)
	}

	v, err := r.Scale(ctx, s.Width, s.Height)
	if err != nil {
		return err
	}
	fmt.Printf("%dx%d %s\n", v.Width, v.Height, v.Path)
	return nil
}

type lookupCmd struct {
	ID string `arg:"" help:"Resource identifier, 16 lower-case hex characters."`
}

func (c *lookupCmd) Run(cfg *config.Config) error {
	e, _, err := bootEngine(context.Background(), cfg, false)
	if err != nil {
		return err
	}
	id, err := naming.ParseFormatted(c.ID)
	if err != nil {
		return err
	}
	r, ok, err := e.Store.Lookup(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no such resource: %s", c.ID)
	}
	fmt.Println(r.Dir)
	return nil
}

type fsckCmd struct {
	Repair bool `help:"Repair recoverable issues (stray staging files and directories)."`
}

func (f *fsckCmd) Run(cfg *config.Config) error {
	e, _, err := bootEngine(context.Background(), cfg, cfg.Uploader)
	if err != nil {
		return err
	}

	var repair *fsck.RepairSet
	if f.Repair {
		repair = fsck.NewRepairSet()
	}
	var issues []fsck.Issue
	if err := e.Store.FsckAll(&issues, repair); err != nil {
		return err
	}
	for _, iss := range issues {
		fmt.Println(iss.String())
	}
	if n := fsck.CountSevere(issues); n > 0 {
		return fmt.Errorf("%d severe issue(s) found", n)
	}
	return nil
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return ""
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return nil
}

func init() {
	log.SetFlags(0)
}
