package cmd

import (
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the project's ledger and start a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir("")
		if err != nil {
			return err
		}
		store, err := openStore(dir)
		if err != nil {
			return err
		}
		if err := store.Reset(); err != nil {
			return err
		}
		id, err := store.SessionID()
		if err != nil {
			return err
		}
		cmd.Printf("Ledger reset. Session: %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
