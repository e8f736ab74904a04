package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/tronproxy/tronrpc/config"
	"github.com/tronproxy/tronrpc/handler"
	"github.com/tronproxy/tronrpc/logging"
	"github.com/tronproxy/tronrpc/metrics"
	"github.com/tronproxy/tronrpc/proxy"
	"github.com/tronproxy/tronrpc/upstream"
)

const (
	startTimeout = 15 * time.Second
	stopTimeout  = 15 * time.Second
)

var (
	flagPort     int
	flagUpstream string
	flagEnvFile  string
)

var rootCmd = &cobra.Command{
	Use:          "tronrpc",
	Short:        "Ethereum JSON-RPC compatibility proxy for TRON",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(flagEnvFile); err != nil {
			return err
		}

		cfg, err := config.New(
			config.WithPort(flagPort),
			config.WithUpstreamURL(flagUpstream),
		)
		if err != nil {
			return err
		}

		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "listen port, overrides PORT")
	rootCmd.Flags().StringVar(&flagUpstream, "upstream", "", "upstream JSON-RPC URL, overrides UPSTREAM_RPC_URL")
	rootCmd.Flags().StringVar(&flagEnvFile, "env-file", ".env", "optional KEY=VALUE file loaded before the environment")
}

func appOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(logging.New),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		metrics.Module,
		upstream.Module,
		proxy.Module,
		handler.Module,
	)
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app := fx.New(appOptions(cfg))
	if err := app.Err(); err != nil {
		return xerrors.Errorf("failed to build app: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return xerrors.Errorf("failed to start app: %w", err)
	}

	signal := <-app.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return xerrors.Errorf("failed to stop app: %w", err)
	}
	if signal.ExitCode != 0 {
		return xerrors.Errorf("app exited with code %d", signal.ExitCode)
	}
	return nil
}
