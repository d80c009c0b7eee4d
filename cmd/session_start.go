package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/stopgate/internal/collector"
)

var sessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "SessionStart hook: reset the ledger for a new task and capture the baseline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := readHookInput(cmd)
		if in == nil {
			return nil
		}
		dir, err := projectDir(in.Cwd)
		if err != nil {
			return err
		}
		store, err := openStore(dir)
		if err != nil {
			return err
		}

		if in.ResetsLedger() {
			if err := store.Reset(); err != nil {
				return err
			}
			logger.Info("ledger reset", zap.String("source", in.Source))
		}

		existing, err := store.Baseline()
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		b, err := collector.CaptureBaseline(dir, time.Now())
		if err != nil {
			logger.Warn("baseline unavailable", zap.Error(err))
			return nil
		}
		if b == nil {
			return nil // not a git repository
		}
		return store.SetBaseline(*b)
	},
}

func init() {
	rootCmd.AddCommand(sessionStartCmd)
}
