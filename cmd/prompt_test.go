package cmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/stopgate/internal/hook"
	"github.com/fakeyudi/stopgate/internal/ledger"
)

func TestPromptInfersKind(t *testing.T) {
	dir := newProject(t)
	addDirective(t, dir, "build the exporter")
	addDirective(t, dir, "  also add a --dry-run flag\n")

	directives, err := openLedger(t, dir).Directives()
	require.NoError(t, err)
	require.Len(t, directives, 2)
	assert.Equal(t, ledger.KindInitial, directives[0].Kind)
	assert.Equal(t, ledger.KindFollowup, directives[1].Kind)
	assert.Equal(t, "also add a --dry-run flag", directives[1].Text)
	assert.Equal(t, ledger.StatusActive, directives[1].Status)
}

func TestPromptKindFlag(t *testing.T) {
	dir := newProject(t)
	input := hookInput(t, hook.Input{Cwd: dir, Prompt: "which format did you mean?"})

	_, err := executeCommandWithInput(rootCmd, input, "prompt", "--kind", "clarification", "--intent", "clarify format")
	require.NoError(t, err)

	directives, err := openLedger(t, dir).Directives()
	require.NoError(t, err)
	require.Len(t, directives, 1)
	assert.Equal(t, ledger.KindClarification, directives[0].Kind)
	assert.Equal(t, "clarify format", directives[0].NormalizedIntent)

	promptKind = ""
	_, err = executeCommandWithInput(rootCmd, input, "prompt", "--kind", "urgent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --kind")
}

func TestPromptIgnoresEmptyText(t *testing.T) {
	dir := newProject(t)
	_, err := executeCommandWithInput(rootCmd, hookInput(t, hook.Input{Cwd: dir, Prompt: "   "}), "prompt")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, ".stopgate", "ledger.json"))
	assert.True(t, os.IsNotExist(statErr), "no ledger should be created for an empty prompt")
}

func TestSessionStartResetsOnStartup(t *testing.T) {
	dir := newProject(t)
	addDirective(t, dir, "first task")
	before, err := openLedger(t, dir).SessionID()
	require.NoError(t, err)

	_, err = executeCommandWithInput(rootCmd, hookInput(t, hook.Input{Cwd: dir, Source: "resume"}), "session-start")
	require.NoError(t, err)
	directives, err := openLedger(t, dir).Directives()
	require.NoError(t, err)
	assert.Len(t, directives, 1, "resume keeps the ledger")

	_, err = executeCommandWithInput(rootCmd, hookInput(t, hook.Input{Cwd: dir, Source: "startup"}), "session-start")
	require.NoError(t, err)
	store := openLedger(t, dir)
	directives, err = store.Directives()
	require.NoError(t, err)
	assert.Empty(t, directives)
	after, err := store.SessionID()
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestSessionStartCapturesBaseline(t *testing.T) {
	dir := newProject(t)
	commitFile(t, dir, "README.md", "hello\n")

	_, err := executeCommandWithInput(rootCmd, hookInput(t, hook.Input{Cwd: dir, Source: "startup"}), "session-start")
	require.NoError(t, err)

	b, err := openLedger(t, dir).Baseline()
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "master", b.Branch)
	assert.Len(t, b.BaseRevision, 40)
}

func TestFingerprintRecordsOnChange(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := newProject(t)
	commitFile(t, dir, "main.go", "package main\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(".stopgate/\n"), 0o644))

	input := hookInput(t, hook.Input{Cwd: dir, HookEventName: hook.EventPostToolUse, ToolName: "Edit"})
	_, err := executeCommandWithInput(rootCmd, input, "fingerprint")
	require.NoError(t, err)
	_, err = executeCommandWithInput(rootCmd, input, "fingerprint")
	require.NoError(t, err)

	fps, err := openLedger(t, dir).Fingerprints()
	require.NoError(t, err)
	require.Len(t, fps, 1, "unchanged workspace is recorded once")
	assert.Equal(t, "Edit", fps[0].AfterAction)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	_, err = executeCommandWithInput(rootCmd, input, "fingerprint")
	require.NoError(t, err)
	fps, err = openLedger(t, dir).Fingerprints()
	require.NoError(t, err)
	assert.Len(t, fps, 2)
}

func TestFingerprintOutsideRepository(t *testing.T) {
	dir := newProject(t)
	input := hookInput(t, hook.Input{Cwd: dir, ToolName: "Write"})
	_, err := executeCommandWithInput(rootCmd, input, "fingerprint")
	require.NoError(t, err)
}

// commitFile creates a repository in dir with one commit holding name.
func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}
