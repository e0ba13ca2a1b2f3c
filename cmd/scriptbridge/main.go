package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/exiv-ai/scriptbridge/pkg/bridge"
	"github.com/exiv-ai/scriptbridge/pkg/config"
	"github.com/exiv-ai/scriptbridge/pkg/execution"
	"github.com/exiv-ai/scriptbridge/pkg/logging"
	"github.com/exiv-ai/scriptbridge/pkg/metrics"
	"github.com/exiv-ai/scriptbridge/pkg/script"
	"github.com/exiv-ai/scriptbridge/pkg/security"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type startupOptions struct {
	configPath  string
	scriptPath  string
	showVersion bool
}

func parseStartupOptions(args []string) (startupOptions, error) {
	var opts startupOptions

	fs := flag.NewFlagSet("scriptbridge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML config file (optional)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: scriptbridge [flags] <script>\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.showVersion {
		return opts, nil
	}

	rest := fs.Args()
	if len(rest) != 1 {
		return opts, fmt.Errorf("expected exactly one script path argument, got %d", len(rest))
	}
	opts.scriptPath = rest[0]
	return opts, nil
}

func main() {
	opts, err := parseStartupOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if opts.showVersion {
		fmt.Printf("scriptbridge %s (commit %s, built %s)\n", version, commit, buildDate)
		return
	}

	if err := run(opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the full bridge: config, logging, script load, strategy, and
// the request loop. It returns nil when stdin reaches EOF cleanly.
func run(opts startupOptions, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level).WithScript(opts.scriptPath)
	logger.Info("starting bridge",
		"version", version,
		"script_dir", cfg.Script.Dir,
		"timeout_secs", cfg.Execution.MethodTimeoutSecs,
		"strategy", cfg.Execution.Strategy,
	)

	transport := bridge.NewTransport(stdin, stdout)
	emitter := bridge.NewEmitter(transport, logger)

	module, err := script.Load(opts.scriptPath, script.Options{
		Dir:     cfg.Script.Dir,
		Policy:  security.DefaultPolicy(),
		Emitter: emitter,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	strategy, err := execution.New(cfg.Execution.Strategy, module.NewThread)
	if err != nil {
		return err
	}
	logger.Info("script loaded",
		"manifest_id", module.Manifest()["id"],
		"actions", module.Registry().Actions(),
		"strategy", strategy.Name(),
	)

	dispatcher := bridge.NewDispatcher(transport, module, strategy, cfg.MethodTimeout(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Listen != "" {
		group.Go(func() error {
			return metrics.Serve(ctx, cfg.Metrics.Listen)
		})
	}
	group.Go(func() error {
		defer cancel()
		return dispatcher.Run()
	})

	return group.Wait()
}
