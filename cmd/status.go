package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/policy"
	"github.com/fakeyudi/stopgate/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ledger for the current project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, _, err := loadLedger()
		if err != nil {
			if errors.Is(err, ledger.ErrNoLedger) {
				cmd.Println("no ledger")
				return nil
			}
			return err
		}
		printStatus(cmd.OutOrStdout(), l, diagnose(l))
		return nil
	},
}

// loadLedger opens an existing ledger without creating one. It returns
// ledger.ErrNoLedger when the project has none yet.
func loadLedger() (*ledger.Ledger, string, error) {
	dir, err := projectDir("")
	if err != nil {
		return nil, "", err
	}
	c := GetConfig()
	path := filepath.Join(c.LedgerDir(dir), c.Storage.LedgerFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, path, ledger.ErrNoLedger
		}
		return nil, path, err
	}
	store, err := openStore(dir)
	if err != nil {
		return nil, path, err
	}
	l, err := store.Snapshot()
	return l, path, err
}

func diagnose(l *ledger.Ledger) tui.Diagnostics {
	th := GetConfig().Thresholds()
	return tui.Diagnostics{
		Limits:   policy.CheckLimits(l.StopAttempts, th),
		Progress: policy.AnalyzeProgress(l.StopAttempts, l.Fingerprints, th),
	}
}

func printStatus(w io.Writer, l *ledger.Ledger, diag tui.Diagnostics) {
	active := 0
	for _, d := range l.Directives {
		if d.Status == ledger.StatusActive {
			active++
		}
	}

	fmt.Fprintf(w, "Session: %s\n", l.SessionID)
	fmt.Fprintf(w, "Updated: %s\n", l.UpdatedAt.Format(time.RFC3339))
	if b := l.Baseline; b != nil {
		fmt.Fprintf(w, "Baseline: %s @ %s\n", b.Branch, b.BaseRevision)
	}
	fmt.Fprintf(w, "Directives: %d (%d active)\n", len(l.Directives), active)
	fmt.Fprintf(w, "Stop attempts: %d\n", len(l.StopAttempts))
	fmt.Fprintf(w, "Fingerprints: %d\n", len(l.Fingerprints))

	if len(l.StopAttempts) > 0 {
		fmt.Fprintln(w)
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"#", "Time", "Verdict", "Changed", "Reason"})
		for i, a := range l.StopAttempts {
			changed := ""
			if a.FingerprintChanged() {
				changed = "yes"
			}
			tw.AppendRow(table.Row{i + 1, a.Timestamp.Format(time.RFC3339), a.Verdict, changed, firstLine(a.Reason, 60)})
		}
		tw.Render()
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Consecutive failures: %d\n", diag.Limits.ConsecutiveFailures)
	if diag.Limits.Exceeded {
		fmt.Fprintf(w, "Limit: %s\n", diag.Limits.Reason)
	} else {
		fmt.Fprintln(w, "Limit: ok")
	}
	fmt.Fprintf(w, "Trend: %s\n", diag.Progress.Trend)
	if diag.Progress.Reason != "" {
		fmt.Fprintf(w, "Trend reason: %s\n", diag.Progress.Reason)
	}
}

// firstLine returns the first line of s, cut to n runes.
func firstLine(s string, n int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
