package cmd

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/policy"
	"github.com/fakeyudi/stopgate/internal/tui"
)

// Feature: stopgate, Property 11: Status counts accuracy
func TestStatusCountsAccuracy(t *testing.T) {
	newProject(t)
	rapid.Check(t, func(rt *rapid.T) {
		N := rapid.IntRange(0, 10).Draw(rt, "N") // directives
		M := rapid.IntRange(0, 10).Draw(rt, "M") // stop attempts
		F := rapid.IntRange(0, 10).Draw(rt, "F") // fingerprints

		dir := t.TempDir()
		store := openLedger(t, dir)
		for i := 0; i < N; i++ {
			if _, err := store.AddDirective(fmt.Sprintf("directive %d", i), ledger.KindFollowup, ""); err != nil {
				rt.Fatalf("AddDirective: %v", err)
			}
		}
		for i := 0; i < M; i++ {
			if _, err := store.RecordStopAttempt(ledger.StopAttempt{Verdict: ledger.VerdictIncomplete, Reason: "missing"}); err != nil {
				rt.Fatalf("RecordStopAttempt: %v", err)
			}
		}
		for i := 0; i < F; i++ {
			if _, err := store.RecordFingerprint(fmt.Sprintf("hash-%d", i), "Edit"); err != nil {
				rt.Fatalf("RecordFingerprint: %v", err)
			}
		}

		workDir = ""
		out, err := executeCommand(rootCmd, "status", "--dir", dir)
		if err != nil {
			rt.Fatalf("status command error: %v", err)
		}

		for _, want := range []string{
			fmt.Sprintf("Directives: %d (%d active)", N, N),
			fmt.Sprintf("Stop attempts: %d", M),
			fmt.Sprintf("Fingerprints: %d", F),
		} {
			if !strings.Contains(out, want) {
				rt.Errorf("expected output to contain %q, got:\n%s", want, out)
			}
		}
	})
}

func TestStatusWithoutLedger(t *testing.T) {
	dir := newProject(t)
	out, err := executeCommand(rootCmd, "status", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no ledger")
}

func TestPrintStatusTableAndDiagnostics(t *testing.T) {
	l := &ledger.Ledger{
		SessionID: "sess-9",
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Baseline:  &ledger.Baseline{Branch: "main", BaseRevision: "abc123"},
		StopAttempts: []ledger.StopAttempt{
			{Verdict: ledger.VerdictIncomplete, Reason: "tests missing\nsecond line", FingerprintBefore: "a", FingerprintAfter: "b"},
			{Verdict: ledger.VerdictBlocked, Reason: "no progress"},
		},
	}
	diag := tui.Diagnostics{
		Limits:   policy.LimitResult{Exceeded: true, Reason: "max consecutive failures reached (3/3)", ConsecutiveFailures: 3},
		Progress: policy.ProgressReport{Trend: policy.TrendStagnant, Reason: "many attempts, no convergence"},
	}

	var buf bytes.Buffer
	printStatus(&buf, l, diag)
	out := buf.String()

	for _, want := range []string{
		"Session: sess-9",
		"Baseline: main @ abc123",
		"VERDICT",
		"incomplete",
		"blocked",
		"tests missing",
		"Limit: max consecutive failures reached (3/3)",
		"Trend: stagnant",
		"Trend reason: many attempts, no convergence",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "second line")
}

func TestViewPlainPrintsStatus(t *testing.T) {
	dir := newProject(t)
	addDirective(t, dir, "ship it")

	out, err := executeCommand(rootCmd, "view", "--plain", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Directives: 1 (1 active)")
	assert.Contains(t, out, "Trend: improving")
}

func TestViewWithoutLedger(t *testing.T) {
	dir := newProject(t)
	_, err := executeCommand(rootCmd, "view", "--plain", "--dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ledger")
}

func TestResetStartsNewSession(t *testing.T) {
	dir := newProject(t)
	addDirective(t, dir, "old task")

	out, err := executeCommand(rootCmd, "reset", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Ledger reset. Session: ")

	directives, err := openLedger(t, dir).Directives()
	require.NoError(t, err)
	assert.Empty(t, directives)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo", 10))
	assert.Equal(t, "abcd…", firstLine("abcdefgh", 5))
	assert.Equal(t, "short", firstLine("short", 5))
}
