package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/stopgate/internal/ledger"
)

var promptKind string
var promptIntent string

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "UserPromptSubmit hook: record the user's instruction as a directive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if promptKind != "" && !ledger.DirectiveKind(promptKind).Valid() {
			return fmt.Errorf("invalid --kind %q: want initial, followup or clarification", promptKind)
		}

		in := readHookInput(cmd)
		if in == nil {
			return nil
		}
		text := strings.TrimSpace(in.Prompt)
		if text == "" {
			logger.Debug("empty prompt; nothing recorded")
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

		kind := ledger.DirectiveKind(promptKind)
		if kind == "" {
			existing, err := store.Directives()
			if err != nil {
				return err
			}
			kind = ledger.KindFollowup
			if len(existing) == 0 {
				kind = ledger.KindInitial
			}
		}

		d, err := store.AddDirective(text, kind, promptIntent)
		if err != nil {
			return err
		}
		logger.Info("directive recorded", zap.String("id", d.ID), zap.String("kind", string(d.Kind)))
		return nil
	},
}

func init() {
	promptCmd.Flags().StringVar(&promptKind, "kind", "", "directive kind: initial, followup or clarification (default: inferred)")
	promptCmd.Flags().StringVar(&promptIntent, "intent", "", "normalized intent stored alongside the prompt")
	rootCmd.AddCommand(promptCmd)
}
