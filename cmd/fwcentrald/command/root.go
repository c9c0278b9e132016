package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fwcentral/fwcentral/internal/pool"
	"github.com/fwcentral/fwcentral/internal/version"
	"github.com/fwcentral/fwcentral/pkg/config"
	"github.com/fwcentral/fwcentral/pkg/dispatcher"
	"github.com/fwcentral/fwcentral/pkg/events"
	"github.com/fwcentral/fwcentral/pkg/logger"
	"github.com/fwcentral/fwcentral/pkg/pki"
	"github.com/fwcentral/fwcentral/pkg/reconciler"
	"github.com/fwcentral/fwcentral/pkg/registry"
	"github.com/fwcentral/fwcentral/pkg/server"
	"github.com/fwcentral/fwcentral/pkg/store"
	"github.com/fwcentral/fwcentral/pkg/transport"
)

const name = "fwcentrald"

var RootCmd = &cobra.Command{
	Use:   name,
	Short: "Central management server for firewalld fleets",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func runServer() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	logRotate := logger.InitLogger(name)
	defer func() { _ = logRotate.Close() }()

	log.Info().Msgf("Starting %s... (version: %s)", name, version.Version)

	settings := config.LoadServer(config.Files(name))

	st, err := store.Open(ctx, settings.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() { _ = st.Close() }()

	ca, err := pki.NewManager(settings.PKIDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize certificate authority")
	}

	workers := pool.NewPool(settings.PoolMaxWorkers, settings.PoolQueueSize,
		time.Duration(settings.PoolDefaultTimeout)*time.Second)
	locks := pool.NewKeyedMutex()
	hub := events.NewHub()
	factory := transport.NewFactory(st, st)

	reg := registry.New(st, ca, hub)
	disp := dispatcher.New(st, factory, workers, locks, hub)
	rec := reconciler.New(st, factory, workers, locks, hub)

	go rec.Run(ctx, time.Duration(settings.SyncCheckInterval)*time.Second)
	go disp.RunTimeoutSweeper(ctx, time.Duration(settings.CommandSweep)*time.Second)
	go reg.RunStaleSweeper(ctx, time.Duration(settings.StaleSweep)*time.Second)

	srv := server.New(settings, st, reg, disp, rec, hub)

	log.Info().Msgf("%s initialized and running.", name)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server stopped")
	}

	log.Info().Msg("Shutting down...")
	if err := workers.Shutdown(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("Worker pool did not drain in time")
	}
}
