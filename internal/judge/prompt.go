package judge

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fakeyudi/stopgate/internal/ledger"
)

const (
	// MaxPatchBytes is the largest patch embedded verbatim in a prompt.
	MaxPatchBytes = 10 * 1024
	// MaxMessageChars bounds the quoted last assistant message.
	MaxMessageChars = 2000
	// HistoryLimit is how many recent stop attempts the prompt shows.
	HistoryLimit = 5
)

// SystemPrompt is the fixed evaluator instruction sent with every request.
const SystemPrompt = `You are a strict completion evaluator for an autonomous coding agent.
Decide whether the agent has fully satisfied every active user directive.
Judge only from the evidence provided: the directives, the workspace changes,
the agent's final message and the history of earlier stop attempts.

Fail the work when you see any of these patterns:
- a directive, or part of one, was not addressed
- the agent claims success without corresponding changes in the workspace
- placeholder code, TODO stubs, or commented-out logic stands in for real work
- tests or checks the user asked for were skipped or left failing
- the agent stops to ask a question it could have answered itself
- the agent asks permission for something the user already authorized

Set unnecessary_question_detected when the final message asks the user something
the agent could resolve alone. Set autonomy_instruction_detected when the user
told the agent to proceed without asking.

Respond only with JSON matching the provided schema.`

// BuildPrompt renders req as the evaluation prompt. The output depends only
// on req and is bounded in size.
func BuildPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("## Active directives\n\n")
	writeDirectives(&sb, req.Directives)

	sb.WriteString("\n## Workspace changes\n\n")
	writeDiff(&sb, req.Diff)

	sb.WriteString("\n## Agent's last message\n\n")
	writeMessage(&sb, req.LastMessage)

	sb.WriteString("\n## Previous stop attempts\n\n")
	writeHistory(&sb, req.Attempts)

	sb.WriteString("\n## Evaluation\n\n")
	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = "(unknown)"
	}
	fmt.Fprintf(&sb, "Current workspace fingerprint: %s\n\n", fingerprint)
	sb.WriteString("Be strict. Pass only if every directive is fully and verifiably complete. " +
		"If anything is missing, fail and list each missing item concretely.\n")

	return sb.String()
}

func writeDirectives(sb *strings.Builder, directives []ledger.Directive) {
	if len(directives) == 0 {
		sb.WriteString("No active directives.\n")
		return
	}
	for i, d := range directives {
		fmt.Fprintf(sb, "%d. [%s] %s\n", i+1, d.Kind, d.Text)
		if d.NormalizedIntent != "" {
			fmt.Fprintf(sb, "   Intent: %s\n", d.NormalizedIntent)
		}
	}
}

func writeDiff(sb *strings.Builder, diff *DiffSummary) {
	if diff == nil {
		sb.WriteString("No diff available.\n")
		return
	}
	adds, dels := diff.Totals()
	fmt.Fprintf(sb, "%d files changed, +%d -%d\n", len(diff.Files), adds, dels)
	if diff.Stat != "" {
		fmt.Fprintf(sb, "Stat: %s\n", diff.Stat)
	}
	for _, f := range diff.Files {
		fmt.Fprintf(sb, "- %s (+%d -%d)\n", f.Path, f.Additions, f.Deletions)
	}
	switch {
	case diff.Patch == "":
	case len(diff.Patch) < MaxPatchBytes:
		sb.WriteString("\n```diff\n")
		sb.WriteString(diff.Patch)
		if !strings.HasSuffix(diff.Patch, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("```\n")
	default:
		fmt.Fprintf(sb, "\nPatch omitted (%d bytes exceeds %d byte limit).\n", len(diff.Patch), MaxPatchBytes)
	}
}

func writeMessage(sb *strings.Builder, msg string) {
	if strings.TrimSpace(msg) == "" {
		sb.WriteString("No message available.\n")
		return
	}
	if utf8.RuneCountInString(msg) > MaxMessageChars {
		msg = string([]rune(msg)[:MaxMessageChars]) + "\n(truncated)"
	}
	sb.WriteString(msg)
	sb.WriteString("\n")
}

func writeHistory(sb *strings.Builder, attempts []ledger.StopAttempt) {
	if len(attempts) == 0 {
		sb.WriteString("None.\n")
		return
	}
	shown := attempts
	if len(attempts) > HistoryLimit {
		shown = attempts[len(attempts)-HistoryLimit:]
		fmt.Fprintf(sb, "(showing last %d of %d)\n", HistoryLimit, len(attempts))
	}
	for i, a := range shown {
		change := "fingerprint unchanged"
		if a.FingerprintChanged() {
			change = "fingerprint changed"
		}
		fmt.Fprintf(sb, "%d. %s: %s (%s)\n", i+1, a.Verdict, a.Reason, change)
	}
}
