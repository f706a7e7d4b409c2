package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/artifact"
	"github.com/khoward/webserial/internal/book"
	"github.com/khoward/webserial/internal/config"
	"github.com/khoward/webserial/internal/extract"
	"github.com/khoward/webserial/internal/logging"
	"github.com/khoward/webserial/internal/metadata"
	"github.com/khoward/webserial/internal/metrics"
	"github.com/khoward/webserial/internal/progress"
	"github.com/khoward/webserial/internal/progress/sinks"
	"github.com/khoward/webserial/internal/renderer"
)

var cfgFile string

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app bundles the wired services the subcommands share: config, logger,
// renderer, extractor, stores, and the progress hub.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	renderer  book.Renderer
	headless  *renderer.Headless
	extractor *extract.XPath
	snapshots *metadata.FileStore
	artifacts *artifact.Store
	hub       *progress.Hub
	metrics   *metrics.Server
}

// newApp is the application factory. It is a variable so tests can replace it
// with a factory producing fakes.
var newApp = buildApp

func buildApp(context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rendererCfg := renderer.Config{
		Proxy:          cfg.Renderer.Proxy,
		UserAgent:      cfg.Renderer.UserAgent,
		NavTimeout:     cfg.NavTimeout(),
		MaxConcurrency: cfg.Download.Concurrency,
		DomainQPS:      cfg.Renderer.DomainQPS,
	}
	headless, err := renderer.NewHeadless(rendererCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	var rend book.Renderer = headless
	if cfg.Renderer.StaticProbe {
		static, err := renderer.NewStatic(rendererCfg, logger)
		if err != nil {
			headless.Close()
			return nil, fmt.Errorf("init static renderer: %w", err)
		}
		rend = renderer.NewPromoting(static, headless, cfg.Renderer.ProbeMinHTMLBytes, logger)
	}

	snapshots, err := metadata.NewFileStore(cfg.Storage.MetadataDir, book.SystemClock{}, logger)
	if err != nil {
		headless.Close()
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	artifacts, err := artifact.New(cfg.Storage.ChaptersDir)
	if err != nil {
		headless.Close()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		headless.Close()
		return nil, fmt.Errorf("init metrics sink: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
	)

	var metricsSrv *metrics.Server
	if cfg.Metrics.ListenAddr != "" {
		metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr, registry, logger)
		if err := metricsSrv.Start(); err != nil {
			headless.Close()
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		renderer:  rend,
		headless:  headless,
		extractor: extract.NewXPath(),
		snapshots: snapshots,
		artifacts: artifacts,
		hub:       hub,
		metrics:   metricsSrv,
	}, nil
}

// Close flushes the progress hub, stops the metrics listener, and shuts the
// browser down.
func (a *app) Close() {
	if a.hub != nil {
		if err := a.hub.Close(context.Background()); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Close(ctx); err != nil {
			a.logger.Warn("metrics server close failed", zap.Error(err))
		}
		cancel()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	_ = a.logger.Sync()
}

// newRootCmd creates and configures the root command. The app is built in
// PersistentPreRunE and injected into the command context, mirroring the
// pattern the subcommands rely on.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webserial",
		Short: "Discover and download chapters of serialized web publications.",
		Long: `webserial walks a work's paginated chapter list, persists the discovered
chapters as a resumable snapshot, and downloads each chapter's text through a
headless browser with bounded concurrency. Interrupted runs resume where they
left off.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./webserial.yaml via env/flags)")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newDownloadCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	appInstance, ok := ctx.Value(appKey).(*app)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. It installs signal-driven cancellation so
// an interrupt stops scheduling new chapters while completed work stays
// persisted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
