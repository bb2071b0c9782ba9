package commands

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestDatabaseFlagUsage(t *testing.T) {
	for _, cmd := range []*cobra.Command{NewRunCmd(), NewHistoryCmd()} {
		flag := cmd.Flags().Lookup("db")
		if flag == nil {
			t.Fatalf("%s has no db flag", cmd.Name())
		}
		if flag.Usage != "Database directory" {
			t.Fatalf("%s: unexpected db usage %q", cmd.Name(), flag.Usage)
		}
	}
}
