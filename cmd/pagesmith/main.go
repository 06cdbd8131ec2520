// Pagesmith turns task requests into static sites published on GitHub Pages.
//
// Configuration is read from an optional YAML file and environment variables.
// See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	GITHUB_TOKEN=... TASK_SECRET=... pagesmith
//
//	# Explicit config file
//	pagesmith --config /etc/pagesmith/config.yaml
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

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/attachment"
	"github.com/fyrsmithlabs/pagesmith/internal/config"
	"github.com/fyrsmithlabs/pagesmith/internal/generator"
	"github.com/fyrsmithlabs/pagesmith/internal/github"
	httpserver "github.com/fyrsmithlabs/pagesmith/internal/http"
	"github.com/fyrsmithlabs/pagesmith/internal/logging"
	"github.com/fyrsmithlabs/pagesmith/internal/notify"
	"github.com/fyrsmithlabs/pagesmith/internal/pages"
	"github.com/fyrsmithlabs/pagesmith/internal/publisher"
	"github.com/fyrsmithlabs/pagesmith/internal/secrets"
	"github.com/fyrsmithlabs/pagesmith/internal/telemetry"
	"github.com/fyrsmithlabs/pagesmith/internal/workflow"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const instrumentationName = "github.com/fyrsmithlabs/pagesmith"

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/pagesmith/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  pagesmith [--config path]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  pagesmith version           Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("pagesmith by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, wires the service and serves until ctx is
// cancelled, then shuts down within the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Error(reason))
	}

	srv, err := newServer(ctx, cfg, logger, tel)
	if err != nil {
		return err
	}

	logger.Info(ctx, "pagesmith starting",
		zap.String("version", version),
		zap.String("addr", srv.Addr()),
		zap.String("generator", cfg.Generator.Backend),
		zap.Bool("open_endpoint", cfg.Server.OpenEndpointEnabled()),
		zap.Bool("secret_scan", cfg.Secrets.Enabled()),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error(ctx, "shutdown error", zap.Error(err))
		return err
	}

	logger.Info(ctx, "server stopped gracefully")
	return nil
}

// newServer builds the workflow and its HTTP front end from cfg.
func newServer(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (*httpserver.Server, error) {
	runner, err := newRunner(ctx, cfg, logger, tel)
	if err != nil {
		return nil, err
	}
	return httpserver.NewServer(runner, cfg.Server, cfg.Task.Secret, logger, tel.Meter(instrumentationName))
}

func newRunner(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (*workflow.Runner, error) {
	client, err := github.NewClient(ctx, cfg.GitHub, logger)
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	pub := publisher.New(client, cfg.GitHub, logger)

	capability, err := generator.NewCapability(ctx, cfg.Generator, logger)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	var scanner *secrets.Scanner
	if cfg.Secrets.Enabled() {
		if scanner, err = secrets.NewScanner(); err != nil {
			return nil, fmt.Errorf("secret scanner: %w", err)
		}
	}

	meter := tel.Meter(instrumentationName)
	notifier, err := notify.NewNotifier(&http.Client{}, cfg.Notify, logger, meter)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	return workflow.NewRunner(workflow.Deps{
		Publisher:   pub,
		Generator:   generator.NewAdapter(capability, pub, cfg.Generator, logger),
		Attachments: attachment.NewDecoder(logger),
		Scanner:     scanner,
		Activator:   pages.NewActivator(client, cfg.Pages, logger),
		Poller:      pages.NewPoller(&http.Client{}, cfg.Pages, logger),
		Notifier:    notifier,
		Logger:      logger,
		Tracer:      tel.Tracer(instrumentationName),
		Meter:       meter,
	})
}
