// Package main is the entry point for the GridFS storage admin CLI.
// It reads and writes files directly against the configured chunk store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/config"
	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/gridfs"
	"github.com/prn-tf/gridfs-storage/internal/pkg/crypto"
	"github.com/prn-tf/gridfs-storage/internal/pkg/logging"
	"github.com/prn-tf/gridfs-storage/internal/repository/factory"
	"github.com/prn-tf/gridfs-storage/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// env carries what every store command needs.
type env struct {
	cfg    *config.Config
	stack  *factory.Stack
	bucket *gridfs.Bucket
	logger zerolog.Logger
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"put":  cmdPut,
	"get":  cmdGet,
	"cat":  cmdCat,
	"stat": cmdStat,
	"rm":   cmdRemove,
	"gc":   cmdGC,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]

	switch name {
	case "version":
		fmt.Printf("GridFS Storage Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return

	case "keygen":
		key, err := crypto.GenerateMasterKey()
		if err != nil {
			fatal(err)
		}
		fmt.Println(key)
		return

	case "help", "-h", "--help":
		printUsage()
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx)
	if err != nil {
		fatal(err)
	}

	err = cmd(ctx, e, os.Args[2:])
	if closeErr := e.stack.Close(context.Background()); closeErr != nil {
		e.logger.Warn().Err(closeErr).Msg("Failed to close store")
	}
	if err != nil {
		fatal(err)
	}
}

func openEnv(ctx context.Context) (*env, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg, err := config.Load(os.Getenv("GRIDFS_CONFIG"))
	if err != nil {
		return nil, err
	}

	// stdout carries file contents.
	logCfg := cfg.Logging
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	logCfg.Format = "console"
	logger, _, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	stack, err := factory.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	bucket, err := gridfs.NewBucket(stack.Store, gridfs.BucketConfig{ChunkSize: cfg.Store.ChunkSize}, logger, nil)
	if err != nil {
		_ = stack.Close(ctx)
		return nil, err
	}

	return &env{cfg: cfg, stack: stack, bucket: bucket, logger: logger}, nil
}

func cmdPut(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	id := fs.String("id", "", "file id (prefix with i:, u:, ... for typed ids); generated when empty")
	chunkSize := fs.Int("chunk-size", 0, "chunk size in bytes")
	contentType := fs.String("content-type", "", "content type")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: gridfs-admin put [flags] <path>")
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := gridfs.UploadOptions{
		Filename:    filepath.Base(path),
		ContentType: *contentType,
		ChunkSize:   *chunkSize,
	}
	if *id != "" {
		opts.ID = domain.ParseExternalID(*id)
	}

	doc, err := e.bucket.Put(ctx, opts, f)
	if err != nil {
		return err
	}
	return printDocument(doc)
}

func cmdGet(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	out := fs.String("o", "", "output path; stdout when empty")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: gridfs-admin get [-o path] <id>")
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	d := e.bucket.OpenDownload(domain.ParseExternalID(fs.Arg(0)))
	defer d.Close(ctx)

	n, err := d.Stream(ctx, w)
	if err != nil {
		return err
	}
	e.logger.Info().Int64("bytes", n).Msg("File written")
	return nil
}

func cmdCat(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	offset := fs.Int64("offset", 0, "start offset; negative counts from the end")
	length := fs.Int64("length", gridfs.ToEnd, "bytes to read; negative stops that many bytes before the end")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: gridfs-admin cat [--offset n] [--length n] <id>")
	}

	d := e.bucket.OpenDownload(domain.ParseExternalID(fs.Arg(0)))
	defer d.Close(ctx)

	data, err := d.Substr(ctx, *offset, *length)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func cmdStat(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: gridfs-admin stat <id>")
	}
	doc, err := e.bucket.Stat(ctx, domain.ParseExternalID(args[0]))
	if err != nil {
		return err
	}
	return printDocument(doc)
}

func cmdRemove(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: gridfs-admin rm <id>")
	}
	return e.bucket.Delete(ctx, domain.ParseExternalID(args[0]))
}

func cmdGC(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report orphans without deleting them")
	grace := fs.Duration("grace", e.cfg.GC.GracePeriod, "minimum age of orphaned chunks")
	batch := fs.Int("batch", e.cfg.GC.BatchSize, "maximum files per run")
	_ = fs.Parse(args)

	gc, err := service.NewGarbageCollector(e.stack.Store, e.cfg.Store.Bucket, e.stack.Locker, nil, e.logger, service.GCConfig{
		GracePeriod: *grace,
		BatchSize:   *batch,
		DryRun:      *dryRun,
	})
	if err != nil {
		return err
	}

	return printJSON(gc.RunOnce(ctx))
}

func printDocument(doc *domain.FileDocument) error {
	return printJSON(struct {
		Key string `json:"key"`
		*domain.FileDocument
	}{domain.MustFileKey(doc.ID), doc})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "gridfs-admin: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`GridFS Storage Admin CLI

Usage:
  gridfs-admin <command> [arguments]

Commands:
  put         Upload a local file
  get         Download a file
  cat         Print a byte range of a file
  stat        Show a file document
  rm          Delete a file and its chunks
  gc          Collect orphaned chunks once
  keygen      Generate an encryption master key
  version     Print version information
  help        Show this help message

Examples:
  gridfs-admin put --id i:42 ./report.pdf
  gridfs-admin get -o report.pdf i:42
  gridfs-admin cat --offset -100 report
  gridfs-admin gc --dry-run

Configuration is read from GRIDFS_CONFIG (or ./config.yaml) and GRIDFS_* variables.`)
}
