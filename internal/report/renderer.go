// Package report exports a ledger as a shareable document and reads such
// documents back.
package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fakeyudi/stopgate/internal/ledger"
)

const (
	versionSentinel = "<!-- stopgate-report-version: 1 -->"
	dataPrefix      = "<!-- stopgate-data: "
	dataSuffix      = " -->"
)

// Renderer serializes a ledger to bytes.
type Renderer interface {
	Render(l *ledger.Ledger) ([]byte, error)
}

// ForFormat returns the renderer for "json" or "markdown" and the file
// extension it writes.
func ForFormat(format string) (Renderer, string, error) {
	switch format {
	case "json":
		return &JSONRenderer{}, ".json", nil
	case "markdown", "md", "":
		return &MarkdownRenderer{}, ".md", nil
	}
	return nil, "", fmt.Errorf("unknown report format %q: want markdown or json", format)
}

// JSONRenderer renders the ledger as indented JSON, the same document the
// store persists.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(l *ledger.Ledger) ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

// MarkdownRenderer renders a human-readable report with an embedded base64
// JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(l *ledger.Ledger) ([]byte, error) {
	jsonBytes, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, encoded, dataSuffix)

	fmt.Fprintf(&sb, "# stopgate session %s\n\n", l.SessionID)

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Created: %s\n", l.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Updated: %s\n", l.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	if b := l.Baseline; b != nil {
		fmt.Fprintf(&sb, "- Branch: %s\n", b.Branch)
		fmt.Fprintf(&sb, "- Base revision: %s\n", b.BaseRevision)
		if b.Dirty {
			sb.WriteString("- Started with uncommitted changes\n")
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Directives\n\n")
	if len(l.Directives) == 0 {
		sb.WriteString("_No directives recorded._\n")
	} else {
		for _, d := range l.Directives {
			fmt.Fprintf(&sb, "- [%s] (%s, %s) %s\n",
				d.CreatedAt.Format("2006-01-02 15:04:05"),
				d.Kind,
				d.Status,
				oneLine(d.Text),
			)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Stop Attempts\n\n")
	if len(l.StopAttempts) == 0 {
		sb.WriteString("_No stop attempts recorded._\n")
	} else {
		sb.WriteString("| Time | Verdict | Workspace changed | Reason |\n")
		sb.WriteString("|------|---------|-------------------|--------|\n")
		for _, a := range l.StopAttempts {
			changed := "no"
			if a.FingerprintChanged() {
				changed = "yes"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				a.Timestamp.Format("2006-01-02 15:04:05"),
				a.Verdict,
				changed,
				strings.ReplaceAll(oneLine(a.Reason), "|", `\|`),
			)
		}
		for i, a := range l.StopAttempts {
			if len(a.Criteria) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "\n### Attempt %d criteria\n\n", i+1)
			for _, c := range a.Criteria {
				mark := " "
				if c.Passed {
					mark = "x"
				}
				fmt.Fprintf(&sb, "- [%s] %s\n", mark, c.Criterion)
			}
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Fingerprints\n\n")
	if len(l.Fingerprints) == 0 {
		sb.WriteString("_No fingerprints recorded._\n")
	} else {
		for _, f := range l.Fingerprints {
			action := f.AfterAction
			if action == "" {
				action = "-"
			}
			fmt.Fprintf(&sb, "- %s `%s` after %s\n", f.RecordedAt.Format("2006-01-02 15:04:05"), f.Hash, action)
		}
	}
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
