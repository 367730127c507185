// Command rwlockdemo puts a writer-priority RWLock under concurrent load and
// reports what happened.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gitlab.com/slon/rwlock/lockmetrics"
	"gitlab.com/slon/rwlock/locktrace"
	"gitlab.com/slon/rwlock/rwlock"
	"gitlab.com/slon/rwlock/stress"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		flags      = defaultConfig()
	)

	cmd := &cobra.Command{
		Use:          "rwlockdemo",
		Short:        "Run readers and writers against a writer-priority RWLock",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(configPath, cmd.Flags(), flags)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a .yaml config; flags override it")
	bindFlags(cmd.Flags(), &flags)
	return cmd
}

func newTracer(mode string, stdout, stderr io.Writer, logger *slog.Logger) (rwlock.Observer, func()) {
	switch mode {
	case TraceText:
		return rwlock.NewLineObserver(stdout), func() {}
	case TraceZap:
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(stderr),
			zapcore.DebugLevel,
		)
		zl := zap.New(core)
		return locktrace.NewZap(zl), func() { _ = zl.Sync() }
	case TraceSlog:
		return locktrace.NewSlog(logger), func() {}
	default:
		return nil, func() {}
	}
}

func run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	runID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})).With("run", runID.String())

	reg := prometheus.NewRegistry()
	metrics, err := lockmetrics.New(reg)
	if err != nil {
		return err
	}

	tracer, flush := newTracer(cfg.Trace, stdout, stderr, logger)
	defer flush()

	lock := rwlock.New(rwlock.WithObserver(locktrace.Multi(tracer, metrics.For("demo"))))

	if cfg.MetricsAddr != "" {
		stop := startMetricsServer(cfg.MetricsAddr, reg, logger)
		defer stop()
	}

	logger.Info("starting run",
		"readers", cfg.Readers,
		"writers", cfg.Writers,
		"duration", cfg.Duration.String(),
		"trace", cfg.Trace,
	)

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	report, err := stress.Run(ctx, lock, stress.Config{
		Readers:   cfg.Readers,
		Writers:   cfg.Writers,
		ReadHold:  cfg.ReadHold,
		WriteHold: cfg.WriteHold,
		Pause:     cfg.Pause,
	})

	logger.Info("run finished",
		"reads", report.Reads,
		"writes", report.Writes,
		"max_concurrent_readers", report.MaxConcurrentReaders,
		"violations", report.Violations,
	)
	if err != nil {
		logger.Error("run failed", "error", err)
		return err
	}
	return nil
}

func main() {
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
