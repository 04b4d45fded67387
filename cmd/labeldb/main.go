package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/labelkit/labelkit/config"
	"github.com/labelkit/labelkit/observability"
	"github.com/labelkit/labelkit/store"
	"github.com/labelkit/labelkit/store/jsonfile"
	"github.com/labelkit/labelkit/store/sqlite"
)

type options struct {
	configPath string
	initStore  bool
	seedPath   string
	reset      bool
	list       bool
	verbose    bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "labeldb: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "labeldb: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: labeldb [flags]\n\nManage the application record store.\n\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "Config file (default labelkit.yaml in the working directory)")
	initStore := flag.Bool("init", false, "Create the store and apply pending migrations")
	seedPath := flag.String("seed", "", "Import application records from a data.json export")
	reset := flag.Bool("reset", false, "Clear stored verdicts")
	list := flag.Bool("list", false, "List application records and their verdict status")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected arguments: %v", flag.Args())
	}
	opts.configPath = *configPath
	opts.initStore = *initStore
	opts.seedPath = *seedPath
	opts.reset = *reset
	opts.list = *list
	opts.verbose = *verbose
	if !opts.initStore && opts.seedPath == "" && !opts.reset && !opts.list {
		flag.Usage()
		return options{}, fmt.Errorf("nothing to do: pass -init, -seed, -reset or -list")
	}
	return opts, nil
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := observability.NewStdLogger(nil, opts.verbose)

	// Opening the store applies pending migrations, so -init needs no
	// extra work beyond reporting.
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	if opts.initStore {
		logger.Info("store ready", observability.String("driver", cfg.Store.Driver))
	}
	if opts.seedPath != "" {
		if err := seed(ctx, st, opts.seedPath, logger); err != nil {
			return err
		}
	}
	if opts.reset {
		if err := st.ClearVerdicts(ctx); err != nil {
			return fmt.Errorf("reset verdicts: %w", err)
		}
		logger.Info("stored verdicts cleared")
	}
	if opts.list {
		if err := list(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// seed imports records from a flat data.json export, in either the
// current or the historical field layout.
func seed(ctx context.Context, st store.Store, path string, logger observability.Logger) error {
	src, err := jsonfile.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	recs, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("seed file %s holds no records", path)
	}
	seeder, ok := st.(store.Seeder)
	if !ok {
		return fmt.Errorf("%T does not support seeding", st)
	}
	if err := seeder.Seed(ctx, recs); err != nil {
		return err
	}
	logger.Info("records imported",
		observability.Int("count", len(recs)),
		observability.String("from", path))
	return nil
}

func list(ctx context.Context, st store.Store) error {
	recs, err := st.List(ctx)
	if err != nil {
		return err
	}
	verdicts, err := st.Verdicts(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "APPLICATION\tBRAND\tCLASS\tBOTTLER\tSTATUS")
	for _, rec := range recs {
		status := "unscanned"
		if v, ok := verdicts[rec.ApplicationNum]; ok {
			if v.Compliant {
				status = "passed"
			} else {
				status = "failed: " + strings.Join(v.Failures(), ", ")
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ApplicationNum, rec.BrandName, rec.ClassType, rec.BottlerName, status)
	}
	return w.Flush()
}

func openStore(cfg config.Config, logger observability.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "json":
		return jsonfile.Open(cfg.Store.JSONPath, jsonfile.WithLogger(logger))
	default:
		return sqlite.Open(cfg.Store.DSN, sqlite.WithLogger(logger))
	}
}
