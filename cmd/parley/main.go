package main

import (
	"os"

	cmd "github.com/mosaicnetworks/parley/cmd/parley/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewRunCmd(),
		cmd.NewSignalCmd(),
		cmd.NewRelayCmd(),
		cmd.NewHistoryCmd(),
	)

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
