package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shadowrealms_backend/internal/app"
	"shadowrealms_backend/internal/service"
	"shadowrealms_backend/pkg/config"
	"shadowrealms_backend/pkg/logging"
)

var cfg *config.Config

var rootCommand = &cobra.Command{
	Use:   "shadowrealms",
	Short: "Run the " + service.GameName + " landing page backend",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logging.Init(cfg.LogLevel, cfg.LogPretty)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func serve(ctx context.Context) error {
	log := logging.Module("main")

	a, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler, err := a.Scheduler(ctx)
	if err != nil {
		return err
	}
	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server is running")
		serverErr <- a.Server.Listen(":" + cfg.Server.Port)
	}()

	select {
	case err = <-serverErr:
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		err = a.Server.ShutdownWithTimeout(10 * time.Second)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	scheduler.Stop(stopCtx)

	if _, rerr := a.Subscriptions.Reconcile(stopCtx); rerr != nil {
		log.Warn().Err(rerr).Msg("Final reconcile failed, records stay in the secondary store")
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Exiting")
		}
		stop()
		os.Exit(1)
	}
}
