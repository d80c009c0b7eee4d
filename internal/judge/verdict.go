// Package judge asks an external oracle process whether a session's work is
// complete. Every malfunction of the oracle resolves to a passing verdict so
// a broken judge can never trap the agent.
package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/fakeyudi/stopgate/internal/ledger"
)

// Verdict is the oracle's answer.
type Verdict struct {
	Pass                        bool     `json:"pass"`
	Reason                      string   `json:"reason"`
	MissingItems                []string `json:"missing_items"`
	QuestionsForUser            []string `json:"questions_for_user"`
	ForwardProgress             bool     `json:"forward_progress"`
	CompletionEstimate          *float64 `json:"completion_estimate,omitempty"`
	SuggestedNextSteps          []string `json:"suggested_next_steps"`
	UnnecessaryQuestionDetected bool     `json:"unnecessary_question_detected,omitempty"`
	AutonomyInstructionDetected bool     `json:"autonomy_instruction_detected,omitempty"`

	// JudgeUnavailable marks a fallback verdict produced because the
	// oracle could not be consulted. Never set by the oracle itself.
	JudgeUnavailable bool `json:"-"`
}

// FailOpen is the single fallback verdict for every oracle failure.
func FailOpen(err error) Verdict {
	return Verdict{
		Pass:               true,
		Reason:             fmt.Sprintf("judge unavailable: %v", err),
		MissingItems:       []string{},
		QuestionsForUser:   []string{},
		ForwardProgress:    true,
		SuggestedNextSteps: []string{},
		JudgeUnavailable:   true,
	}
}

// DiffFile is one file's change counts.
type DiffFile struct {
	Path      string
	Additions int
	Deletions int
}

// DiffSummary describes what changed in the workspace.
type DiffSummary struct {
	Files []DiffFile
	// Stat is the overall shortstat line, if available.
	Stat  string
	Patch string
}

// Totals sums additions and deletions over all files.
func (d *DiffSummary) Totals() (additions, deletions int) {
	for _, f := range d.Files {
		additions += f.Additions
		deletions += f.Deletions
	}
	return additions, deletions
}

// Request is everything the oracle sees.
type Request struct {
	Directives  []ledger.Directive
	Diff        *DiffSummary // nil when no diff is available
	LastMessage string       // empty when absent
	Attempts    []ledger.StopAttempt
	Fingerprint string
}

// Judge evaluates whether the work in req is complete. Implementations
// must not fail: oracle errors become FailOpen verdicts.
type Judge interface {
	Evaluate(ctx context.Context, req Request) Verdict
}

// FormatBlockReason renders a failing verdict as feedback for the agent.
func FormatBlockReason(v Verdict) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(v.Reason))

	section := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n\n%s:\n", label)
		for _, item := range items {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	section("Missing", v.MissingItems)
	section("Next steps", v.SuggestedNextSteps)
	section("Questions", v.QuestionsForUser)

	return strings.TrimRight(sb.String(), "\n")
}
