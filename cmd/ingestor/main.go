// Command ingestor is the top-level orchestration binary: it parses the
// CLI, builds the configured sink, supervises the Canonicalizer Process,
// and spawns one agent per positional agent_spec argument, mirroring the
// original binary's main().
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"crossspread-md-ingest/internal/agent"
	"crossspread-md-ingest/internal/canon"
	"crossspread-md-ingest/internal/config"
	"crossspread-md-ingest/internal/metrics"
	"crossspread-md-ingest/internal/orderbook"
	"crossspread-md-ingest/internal/sink"
	"crossspread-md-ingest/internal/supervisor"
)

const (
	exitOK             = 0
	exitUnknownAgent   = 2
	exitConfigError    = 1
	fanInBufferSize    = 4096
	defaultMetricsAddr = ":9090"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	os.Exit(run())
}

func run() int {
	var (
		configPath string
		sinkKind   string
		filePath   string
		busBrokers string
		busTopic   string
	)

	root := &cobra.Command{
		Use:   "ingestor [agent_spec...]",
		Short: "Multi-venue market-data ingestion pipeline",
		Long: `ingestor connects to one or more venue streams, canonicalizes every
event through a supervised child process, and writes the result to the
configured sink.

Examples:
  ingestor binance:btcusdt,ethusdt
  ingestor binance:all coinbase:all --sink file --file-path /var/log/md.ndjson`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.Flags().StringVar(&sinkKind, "sink", "", "sink kind: stdout, file, or bus (overrides config)")
	root.Flags().StringVar(&filePath, "file-path", "", "output path when --sink=file")
	root.Flags().StringVar(&busBrokers, "bus-brokers", "", "message bus address when --sink=bus")
	root.Flags().StringVar(&busTopic, "bus-topic", "", "message bus topic/stream when --sink=bus")

	exitCode := exitOK
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: ingestor <agent_spec> [<agent_spec> ...]")
			fmt.Fprintln(os.Stderr, "Examples:")
			fmt.Fprintln(os.Stderr, "  ingestor binance:btcusdt")
			fmt.Fprintln(os.Stderr, "  ingestor binance:btcusdt,ethusdt binance:solusdt")
			exitCode = exitUnknownAgent
			return nil
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			exitCode = exitConfigError
			return fmt.Errorf("load config: %w", err)
		}
		if sinkKind != "" {
			cfg.Sink.Kind = sinkKind
		}
		if filePath != "" {
			cfg.Sink.FilePath = filePath
		}
		if busBrokers != "" {
			cfg.Sink.BusBrokers = busBrokers
		}
		if busTopic != "" {
			cfg.Sink.BusTopic = busTopic
		}
		if err := cfg.Validate(); err != nil {
			exitCode = exitConfigError
			return err
		}

		code, err := runIngestor(cmd.Context(), cfg, args)
		exitCode = code
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("ingestor exited with error")
		if exitCode == exitOK {
			exitCode = 1
		}
	}
	return exitCode
}

func runIngestor(ctx context.Context, cfg *config.Config, specs []string) (int, error) {
	canon.Init(ctx, nil)

	s, err := buildSink(ctx, cfg.Sink)
	if err != nil {
		return exitConfigError, fmt.Errorf("build sink: %w", err)
	}
	defer s.Close()

	metricsAddr := cfg.Metrics.ListenAddr
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}
	metricsServer := metrics.NewServer(metricsAddr)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	registry := agent.NewRegistry()
	agents := make([]agent.Agent, 0, len(specs))
	for _, spec := range specs {
		a, err := registry.Create(spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unknown agent spec: %s\n", spec)
			return exitUnknownAgent, err
		}
		agents = append(agents, a)
	}

	canonBinary, err := canonicalizerBinaryPath()
	if err != nil {
		return exitConfigError, err
	}
	watchdog := supervisor.NewWatchdog(canonBinary, s, fanInBufferSize)
	watchdog.Book = orderbook.NewStore()

	shutdown := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return watchdog.Run(gctx) })

	for _, a := range agents {
		a := a
		log.Info().Str("agent", a.Name()).Msg("spawning agent")
		g.Go(func() error {
			err := a.Run(gctx, shutdown, watchdog.In())
			if err != nil {
				log.Error().Str("agent", a.Name()).Err(err).Msg("agent exited with error")
			} else {
				log.Info().Str("agent", a.Name()).Msg("agent exited")
			}
			return err
		})
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received; draining agents")
		close(shutdown)
	}()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return 1, err
	}
	return exitOK, nil
}

func buildSink(ctx context.Context, cfg config.SinkConfig) (sink.Sink, error) {
	switch cfg.Kind {
	case "file":
		return sink.NewFileSink(cfg.FilePath)
	case "bus":
		return sink.NewBusSink(ctx, cfg.BusBrokers, cfg.BusTopic)
	default:
		return sink.NewStdoutSink(), nil
	}
}

// canonicalizerBinaryPath locates the canonicalizer binary as a sibling of
// the currently running executable, matching the original binary's
// exe.with_file_name("canonicalizer") convention.
func canonicalizerBinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "canonicalizer"), nil
}
