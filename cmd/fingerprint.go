package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/stopgate/internal/collector"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "PostToolUse hook: record the workspace fingerprint after a tool call",
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

		g := &collector.GitCollector{WorkDir: dir}
		hash, err := g.Fingerprint(cmd.Context())
		if err != nil {
			logger.Warn("fingerprint unavailable", zap.Error(err))
			return nil
		}

		store, err := openStore(dir)
		if err != nil {
			return err
		}
		written, err := store.RecordFingerprintIfChanged(hash, in.ToolName)
		if err != nil {
			return err
		}
		logger.Debug("fingerprint checked", zap.Bool("recorded", written), zap.String("tool", in.ToolName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
}
