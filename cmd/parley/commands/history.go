package commands

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/parley/src/store"
	"github.com/spf13/cobra"
)

//NewHistoryCmd returns the command that prints the recorded session history
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Print the session history recorded in the database",
		PreRunE: loadHistoryConfig,
		RunE:    printHistory,
	}

	cmd.Flags().String("datadir", _config.Parley.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", "warn", "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("db", _config.Parley.DatabaseDir, "Database directory")
	cmd.Flags().StringP("room", "r", "", "Only print the records of this room")

	return cmd
}

func loadHistoryConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}
	_config.Parley.SetDataDir(_config.Parley.DataDir)
	return nil
}

func printHistory(cmd *cobra.Command, args []string) error {
	st, err := store.NewBadgerStore(
		_config.Parley.DatabaseDir,
		_config.Parley.Logger(),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Records(_config.Parley.Room)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range records {
		fmt.Fprintf(out, "%6d %s %-8s %-14s %s %s %s\n",
			r.Seq,
			r.Time.Format(time.RFC3339),
			r.Room,
			r.Event,
			r.Peer,
			r.DisplayName,
			r.Detail,
		)
	}

	return nil
}
