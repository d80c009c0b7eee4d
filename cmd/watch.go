package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/stopgate/internal/collector"
)

// WatchAction labels fingerprints recorded by the watcher.
const WatchAction = "watch"

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Record workspace fingerprints on file changes until interrupted",
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := GetConfig()
		g := &collector.GitCollector{WorkDir: dir}
		record := func(ctx context.Context) error {
			hash, err := g.Fingerprint(ctx)
			if err != nil {
				return err
			}
			written, err := store.RecordFingerprintIfChanged(hash, WatchAction)
			if err != nil {
				return err
			}
			if written {
				logger.Info("fingerprint recorded", zap.String("hash", hash))
			}
			return nil
		}

		cmd.Printf("Watching %s (Ctrl-C to stop)\n", dir)
		err = collector.Watch(ctx, dir, record, collector.WatchOptions{
			IgnorePatterns: c.Watch.IgnorePatterns,
			Debounce:       c.Watch.Debounce,
			Logger:         logger,
		})
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
