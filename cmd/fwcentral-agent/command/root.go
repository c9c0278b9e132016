package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fwcentral/fwcentral/internal/version"
	"github.com/fwcentral/fwcentral/pkg/agent"
	"github.com/fwcentral/fwcentral/pkg/config"
	"github.com/fwcentral/fwcentral/pkg/logger"
)

const name = "fwcentral-agent"

var RootCmd = &cobra.Command{
	Use:   name,
	Short: "Host agent for the firewalld central management server",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

func init() {
	RootCmd.AddCommand(registerCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func runAgent() {
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

	settings := config.LoadAgent(config.Files(name))

	var err error
	switch settings.Mode {
	case "push":
		err = agent.NewPushServer(settings).Run(ctx)
	default:
		err = agent.NewPullClient(settings).Run(ctx)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Agent stopped")
	}
	log.Info().Msg("Shutting down...")
}
