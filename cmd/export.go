package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/report"
)

var exportFormat string
var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the project's ledger as a Markdown or JSON report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		renderer, ext, err := report.ForFormat(exportFormat)
		if err != nil {
			return err
		}

		l, path, err := loadLedger()
		if err != nil {
			if errors.Is(err, ledger.ErrNoLedger) {
				return fmt.Errorf("no ledger at %s", path)
			}
			return err
		}

		data, err := renderer.Render(l)
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}

		if exportOutput == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		out := exportOutput
		if out == "" {
			out = "stopgate-" + time.Now().Format("20060102-150405") + ext
		}
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		cmd.Printf("Report written: %s\n", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "markdown", "report format: markdown or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, or - for stdout (default: stopgate-<timestamp>.<ext>)")
	rootCmd.AddCommand(exportCmd)
}
