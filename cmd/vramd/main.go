package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vramd/internal/config"
	"vramd/internal/controller"
	"vramd/internal/httpapi"
	"vramd/internal/supervisor"
	"vramd/internal/vram"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		logLevel   string
		verbosity  int
	)
	root := &cobra.Command{
		Use:           "vramd",
		Short:         "GPU-memory-aware model residency daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, addr, logLevel, verbosity)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "vramd.yaml", "Path to config file (created with defaults if missing)")
	root.Flags().StringVar(&addr, "addr", "", "Listen address override, e.g. :3000")
	root.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.Flags().CountVarP(&verbosity, "verbose", "v", "Raise log verbosity (-v debug, -vv trace)")
	return root
}

// logLevelFor resolves the effective log level from --log-level and the
// -v count. Verbosity only ever lowers the threshold.
func logLevelFor(logLevel string, verbosity int) zerolog.Level {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	switch {
	case verbosity >= 2:
		return zerolog.TraceLevel
	case verbosity == 1 && lvl > zerolog.DebugLevel:
		return zerolog.DebugLevel
	}
	return lvl
}

func run(configPath, addr, logLevel string, verbosity int) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(logLevelFor(logLevel, verbosity)).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Addr = addr
	}

	sup := supervisor.New(cfg.Llama.StopGrace.Std(), log)
	est := vram.NewEstimator(cfg.Tools.EstimatorBin, cfg.Tools.MonitorBin, cfg.DeviceIndex, nil, log)
	ctl := controller.New(&cfg, sup, est, log)

	preCtx, preCancel := context.WithTimeout(context.Background(), 30*time.Second)
	ctl.WarnOversized(preCtx)
	preCancel()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(ctl)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Int("models", len(cfg.Models)).Msg("vramd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		ctl.Close()
		return err
	}

	// Cancel in-flight handler work, drain the listener, then stop every
	// resident backend.
	cancelBase()
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	ctl.Close()
	return nil
}
