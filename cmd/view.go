package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/report"
	"github.com/fakeyudi/stopgate/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view [report-file]",
	Short: "Browse the project's ledger, or an exported report, in a terminal UI",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			l    *ledger.Ledger
			path string
			err  error
		)
		if len(args) == 1 {
			path = args[0]
			l, err = readReport(path)
		} else {
			l, path, err = loadLedger()
			if errors.Is(err, ledger.ErrNoLedger) {
				return fmt.Errorf("no ledger at %s", path)
			}
		}
		if err != nil {
			return err
		}

		diag := diagnose(l)
		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			printStatus(cmd.OutOrStdout(), l, diag)
			return nil
		}
		return tui.Run(l, diag, path)
	},
}

func readReport(path string) (*ledger.Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, err
	}
	return report.ParserFor(path).Parse(data)
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
