package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/stopgate/internal/collector"
	"github.com/fakeyudi/stopgate/internal/config"
	"github.com/fakeyudi/stopgate/internal/decision"
	"github.com/fakeyudi/stopgate/internal/hook"
	"github.com/fakeyudi/stopgate/internal/judge"
)

// newJudge builds the oracle client; tests swap it for a stub.
var newJudge = func(c *config.Config, log *zap.Logger) judge.Judge {
	return &judge.CLIGateway{
		Executable:     c.Judge.Executable,
		Model:          c.Judge.Model,
		Timeout:        c.Judge.Timeout,
		MaxOutputBytes: c.Judge.MaxOutputBytes,
		Logger:         log,
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop hook: decide whether the agent may finish",
	Long: `Reads the Stop hook document from stdin and evaluates the session.
Prints nothing to allow the stop, or a {"decision":"block"} document with
feedback for the agent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := readHookInput(cmd)
		if in == nil {
			return nil
		}
		if os.Getenv(judge.NestedEnv) != "" {
			logger.Debug("nested oracle session; allowing stop")
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

		c := GetConfig()
		var transcript decision.Transcript
		if in.TranscriptPath != "" {
			transcript = &collector.TranscriptReader{Path: in.TranscriptPath}
		}
		orch := decision.New(store,
			newJudge(c, logger),
			&collector.GitCollector{WorkDir: dir},
			transcript,
			decision.Options{
				Thresholds:  c.Thresholds(),
				IncludeDiff: c.Diff.Enabled,
				Logger:      logger,
			},
		)

		d, err := orch.Decide(cmd.Context(), decision.Request{StopHookActive: in.StopHookActive})
		if err != nil {
			return err
		}
		logger.Info("stop decision", zap.Stringer("decision", d), zap.String("session_id", in.SessionID))
		if !d.Blocked() {
			return nil
		}
		return hook.WriteBlock(cmd.OutOrStdout(), d.Reason())
	},
}

// readHookInput decodes the hook document on stdin. Malformed input is
// logged and yields nil so the hook stays non-blocking.
func readHookInput(cmd *cobra.Command) *hook.Input {
	in, err := hook.ReadInput(cmd.InOrStdin())
	if err != nil {
		logger.Warn("ignoring hook input", zap.Error(err))
		return nil
	}
	return in
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
