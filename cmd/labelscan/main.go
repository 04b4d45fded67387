package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/labelkit/labelkit/config"
	"github.com/labelkit/labelkit/imageio"
	"github.com/labelkit/labelkit/observability"
	"github.com/labelkit/labelkit/pipeline"
	"github.com/labelkit/labelkit/report"
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
	apps       []string
	all        bool
	csvPath    string
	reset      bool
	verbose    bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "labelscan: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "labelscan: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: labelscan [flags]\n\nScan label artwork against TTB application records.\n\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "Config file (default labelkit.yaml in the working directory)")
	apps := flag.String("apps", "", "Comma-separated application numbers to scan")
	all := flag.Bool("all", false, "Scan every application on file")
	csvPath := flag.String("csv", "", "Write a results CSV to this path after scanning")
	reset := flag.Bool("reset", false, "Clear stored verdicts before scanning")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected arguments: %v", flag.Args())
	}
	opts.configPath = *configPath
	opts.all = *all
	opts.csvPath = *csvPath
	opts.reset = *reset
	opts.verbose = *verbose
	if *apps != "" {
		for _, a := range strings.Split(*apps, ",") {
			if a = strings.TrimSpace(a); a != "" {
				opts.apps = append(opts.apps, a)
			}
		}
	}
	if !opts.all && len(opts.apps) == 0 {
		flag.Usage()
		return options{}, fmt.Errorf("nothing to scan: pass -apps or -all")
	}
	if opts.all && len(opts.apps) > 0 {
		return options{}, fmt.Errorf("-apps and -all are mutually exclusive")
	}
	return opts, nil
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := observability.NewStdLogger(nil, opts.verbose)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.reset {
		if err := st.ClearVerdicts(ctx); err != nil {
			return fmt.Errorf("reset verdicts: %w", err)
		}
		logger.Info("stored verdicts cleared")
	}

	engines, err := cfg.EnginePair()
	if err != nil {
		return err
	}
	runner := pipeline.New(st, imageio.NewDir(cfg.Images.Dirs, imageio.WithLogger(logger)), engines,
		pipeline.WithFusion(cfg.FusionOptions()),
		pipeline.WithVerification(cfg.VerificationOptions()),
		pipeline.WithInputOptions(cfg.InputOptions()...),
		pipeline.WithWorkers(cfg.Batch.Workers),
		pipeline.WithLogger(logger))

	res, batchErr := runner.ProcessBatch(ctx, opts.apps)
	for _, o := range res.Outcomes {
		fmt.Println(report.FormatOutcome(o))
	}
	fmt.Println(report.Summarize(res))
	if batchErr != nil {
		return batchErr
	}

	if opts.csvPath != "" {
		if err := exportCSV(ctx, st, res, opts.csvPath); err != nil {
			return err
		}
		logger.Info("results exported", observability.String("path", opts.csvPath))
	}
	return nil
}

func exportCSV(ctx context.Context, st store.Store, res pipeline.BatchResult, path string) error {
	records, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("list applications: %w", err)
	}
	verdicts, err := st.Verdicts(ctx)
	if err != nil {
		return fmt.Errorf("load verdicts: %w", err)
	}
	errs := make(map[string]string)
	for _, o := range res.Outcomes {
		if o.Err != nil {
			errs[o.AppNum] = o.Err.Error()
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.WriteCSV(f, records, verdicts, errs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func openStore(cfg config.Config, logger observability.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "json":
		return jsonfile.Open(cfg.Store.JSONPath, jsonfile.WithLogger(logger))
	default:
		return sqlite.Open(cfg.Store.DSN, sqlite.WithLogger(logger))
	}
}
