package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labelkit/labelkit/config"
	"github.com/labelkit/labelkit/imageio"
	"github.com/labelkit/labelkit/observability"
	"github.com/labelkit/labelkit/pipeline"
	"github.com/labelkit/labelkit/store"
	"github.com/labelkit/labelkit/store/jsonfile"
	"github.com/labelkit/labelkit/store/sqlite"

	// Providers register themselves so config can select them by name.
	_ "github.com/labelkit/labelkit/ocr/gemini"
	_ "github.com/labelkit/labelkit/ocr/hocr"
	_ "github.com/labelkit/labelkit/ocr/onnx"
	_ "github.com/labelkit/labelkit/ocr/tesseract"
)

type options struct {
	configPath string
	addr       string
	verbose    bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "labelserve: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "labelserve: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: labelserve [flags]\n\nServe label records and compliance scans over HTTP.\n\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "Config file (default labelkit.yaml in the working directory)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected arguments: %v", flag.Args())
	}
	opts.configPath = *configPath
	opts.addr = *addr
	opts.verbose = *verbose
	return opts, nil
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	logger := observability.NewStdLogger(nil, opts.verbose)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	engines, err := cfg.EnginePair()
	if err != nil {
		return err
	}
	images := imageio.NewDir(cfg.Images.Dirs, imageio.WithLogger(logger))
	runner := pipeline.New(st, images, engines,
		pipeline.WithFusion(cfg.FusionOptions()),
		pipeline.WithVerification(cfg.VerificationOptions()),
		pipeline.WithInputOptions(cfg.InputOptions()...),
		pipeline.WithWorkers(cfg.Batch.Workers),
		pipeline.WithLogger(logger),
	)

	srv := newServer(st, images, runner, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg config.Config, logger observability.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "json":
		return jsonfile.Open(cfg.Store.JSONPath, jsonfile.WithLogger(logger))
	default:
		return sqlite.Open(cfg.Store.DSN, sqlite.WithLogger(logger))
	}
}
