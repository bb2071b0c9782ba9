package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for parley
var RootCmd = &cobra.Command{
	Use:               "parley",
	Short:             "multi-party WebRTC conferencing",
	TraverseChildren:  true,
	PersistentPreRunE: loadEnv,
}

func init() {
	RootCmd.PersistentFlags().String("env-file", _config.EnvFile, "File of environment variables to load before reading the configuration")
}

// loadEnv loads the environment file, if it exists. Variables already set in
// the environment take precedence.
func loadEnv(cmd *cobra.Command, args []string) error {
	file, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return err
	}

	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}

	return godotenv.Load(file)
}

// waitForSignal blocks until SIGINT or SIGTERM is received.
func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	<-sigCh
}
