package command

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fwcentral/fwcentral/pkg/agent"
	"github.com/fwcentral/fwcentral/pkg/config"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this host with the central server",
	Long: `Registers this host as a pull agent. The server replies with an agent id
and a shared secret, printed once; put both in the agent config file before
starting the check-in loop.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings := config.LoadAgent(config.Files(name))
		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL != "" {
			settings.ServerURL = serverURL
		}
		if settings.ServerURL == "" {
			_, _ = fmt.Fprintln(os.Stderr, "A server URL is required (--server or config file).")
			os.Exit(1)
		}

		reg, err := agent.NewPullClient(settings).Register(context.Background())
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Registration failed:", err.Error())
			os.Exit(1)
		}

		fmt.Println("Registration successful. Add to the [server] section of the config file:")
		fmt.Printf("id = %s\n", reg.AgentID)
		fmt.Printf("secret = %s\n", reg.SharedSecret)
		fmt.Printf("\nSuggested check-in interval: %ds\n", reg.CheckinIntervalSeconds)
		fmt.Println("The agent stays pending until an operator approves it on the server.")
	},
}

func init() {
	registerCmd.Flags().String("server", "", "base URL of the central server")
}
