package decision

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fakeyudi/stopgate/internal/judge"
	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/policy"
)

type fakeWorkspace struct {
	fingerprint string
	diff        *judge.DiffSummary
	err         error
	diffCalls   atomic.Int32
}

func (w *fakeWorkspace) Fingerprint(context.Context) (string, error) {
	return w.fingerprint, w.err
}

func (w *fakeWorkspace) Diff(context.Context) (*judge.DiffSummary, error) {
	w.diffCalls.Add(1)
	return w.diff, w.err
}

type fakeTranscript struct {
	msg string
	err error
}

func (t fakeTranscript) LastAssistantMessage(context.Context) (string, error) { return t.msg, t.err }

type fixture struct {
	store   *ledger.Store
	backend *ledger.MemoryBackend
	judge   *judge.Stub
	ws      *fakeWorkspace
	orch    *Orchestrator
}

func newFixture(t *testing.T, th policy.Thresholds, verdicts ...judge.Verdict) *fixture {
	t.Helper()
	backend := ledger.NewMemoryBackend()
	store := ledger.NewStore(backend, ledger.Options{})
	require.NoError(t, store.Initialize())

	f := &fixture{
		store:   store,
		backend: backend,
		judge:   judge.NewStub(verdicts...),
		ws: &fakeWorkspace{
			fingerprint: "fp-current",
			diff:        &judge.DiffSummary{Files: []judge.DiffFile{{Path: "main.go", Additions: 3}}},
		},
	}
	f.orch = New(store, f.judge, f.ws, fakeTranscript{msg: "All done."}, Options{Thresholds: th, IncludeDiff: true})
	return f
}

func (f *fixture) directive(t *testing.T, text string) ledger.Directive {
	t.Helper()
	d, err := f.store.AddDirective(text, ledger.KindInitial, "")
	require.NoError(t, err)
	return d
}

func (f *fixture) attempts(t *testing.T) []ledger.StopAttempt {
	t.Helper()
	a, err := f.store.StopAttempts()
	require.NoError(t, err)
	return a
}

func (f *fixture) seedAttempts(t *testing.T, v ledger.AttemptVerdict, n int) {
	t.Helper()
	for range n {
		_, err := f.store.RecordStopAttempt(ledger.StopAttempt{Verdict: v, Reason: "seed"})
		require.NoError(t, err)
	}
}

func TestNoActiveDirectivesAllows(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(), judge.Fail("should not be asked"))
	saves := f.backend.Saves()

	d, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)

	assert.False(t, d.Blocked())
	assert.Empty(t, f.judge.Calls())
	assert.Empty(t, f.attempts(t))
	assert.Equal(t, saves, f.backend.Saves(), "no ledger write expected")
}

func TestFailingVerdictBlocksWithMissingItems(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(),
		judge.Fail("Logout is not implemented.", "logout endpoint", "logout button"))
	f.directive(t, "add login and logout")

	d, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)

	require.True(t, d.Blocked())
	assert.Contains(t, d.Reason(), "Logout is not implemented.")
	assert.Contains(t, d.Reason(), "logout endpoint")
	assert.Contains(t, d.Reason(), "logout button")

	attempts := f.attempts(t)
	require.Len(t, attempts, 1)
	assert.Equal(t, ledger.VerdictIncomplete, attempts[0].Verdict)
	assert.Equal(t, []ledger.CriterionResult{
		{Criterion: "logout endpoint", Passed: false},
		{Criterion: "logout button", Passed: false},
	}, attempts[0].Criteria)
	assert.Equal(t, "fp-current", attempts[0].FingerprintAfter)

	active, _ := f.store.ActiveDirectives()
	assert.Len(t, active, 1, "directives stay active after a failed verdict")

	calls := f.judge.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "All done.", calls[0].LastMessage)
	assert.Equal(t, "fp-current", calls[0].Fingerprint)
	require.NotNil(t, calls[0].Diff)
	assert.Equal(t, "main.go", calls[0].Diff.Files[0].Path)
}

func TestPassingVerdictCompletesDirectives(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(), judge.Pass("everything is in place"))
	f.directive(t, "first")
	f.directive(t, "second")
	_, err := f.store.RecordFingerprint("fp-old", "Edit")
	require.NoError(t, err)

	d, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, d.Blocked())

	active, _ := f.store.ActiveDirectives()
	assert.Empty(t, active)
	all, _ := f.store.Directives()
	for _, dir := range all {
		assert.Equal(t, ledger.StatusCompleted, dir.Status)
		assert.NotNil(t, dir.CompletedAt)
	}

	attempts := f.attempts(t)
	require.Len(t, attempts, 1)
	assert.Equal(t, ledger.VerdictComplete, attempts[0].Verdict)
	assert.Equal(t, "fp-old", attempts[0].FingerprintBefore)
	assert.Equal(t, "fp-current", attempts[0].FingerprintAfter)
	assert.True(t, attempts[0].FingerprintChanged())

	fps, _ := f.store.Fingerprints()
	require.Len(t, fps, 2)
	assert.Equal(t, StopEvaluationAction, fps[1].AfterAction)
}

func TestFingerprintBeforeComesFromPreviousAttempt(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(), judge.Fail("first"), judge.Fail("second"))
	f.directive(t, "task")

	_, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)
	_, err = f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)

	attempts := f.attempts(t)
	require.Len(t, attempts, 2)
	assert.Equal(t, "fp-current", attempts[1].FingerprintBefore)
	assert.False(t, attempts[1].FingerprintChanged())

	fps, _ := f.store.Fingerprints()
	require.Len(t, fps, 2, "every stop cycle logs its fingerprint")
	assert.Equal(t, fps[0].Hash, fps[1].Hash)
}

func TestUnchangedWorkspaceAsksForClarification(t *testing.T) {
	th := policy.Thresholds{MaxConsecutiveFailures: 10, MaxTotalAttempts: 20, NoProgressThreshold: 3, RegressionDivisor: 2}
	f := newFixture(t, th, judge.Fail("still missing tests"))
	f.directive(t, "add tests")
	_, err := f.store.RecordFingerprintIfChanged("A", "Edit")
	require.NoError(t, err)

	var d Decision
	for range 4 {
		d, err = f.orch.Decide(context.Background(), Request{})
		require.NoError(t, err)
		require.True(t, d.Blocked())
	}

	assert.Len(t, f.judge.Calls(), 3, "the fourth cycle is decided without the judge")
	assert.Contains(t, d.Reason(), "Ask the user for clarification")

	fps, _ := f.store.Fingerprints()
	require.Len(t, fps, 4)
	for _, fp := range fps[1:] {
		assert.Equal(t, "fp-current", fp.Hash)
	}

	attempts := f.attempts(t)
	require.Len(t, attempts, 4)
	assert.Equal(t, ledger.VerdictBlocked, attempts[3].Verdict)
}

func TestJudgeFailureFailsOpen(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds())
	f.directive(t, "task")

	core, logs := observer.New(zapcore.WarnLevel)
	gw := &judge.CLIGateway{
		Runner: func(context.Context, judge.Invocation) ([]byte, error) {
			return nil, errors.New("oracle crashed")
		},
		Logger: zap.New(core),
	}
	orch := New(f.store, gw, f.ws, nil, Options{Thresholds: policy.DefaultThresholds(), IncludeDiff: true})

	d, err := orch.Decide(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, d.Blocked())

	attempts := f.attempts(t)
	require.Len(t, attempts, 1)
	assert.Equal(t, ledger.VerdictComplete, attempts[0].Verdict)
	assert.Contains(t, attempts[0].Reason, "judge unavailable")
	assert.Contains(t, attempts[0].Reason, "oracle crashed")
	assert.Equal(t, 1, logs.Len())
}

func TestConsecutiveFailureLimitForcesCompletion(t *testing.T) {
	th := policy.DefaultThresholds()
	th.MaxConsecutiveFailures = 3
	f := newFixture(t, th, judge.Fail("should not be asked"))
	f.directive(t, "task")
	f.seedAttempts(t, ledger.VerdictIncomplete, 3)

	d, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)

	assert.False(t, d.Blocked())
	assert.Empty(t, f.judge.Calls())

	attempts := f.attempts(t)
	require.Len(t, attempts, 4)
	last := attempts[3]
	assert.Equal(t, ledger.VerdictComplete, last.Verdict)
	assert.Contains(t, last.Reason, "max consecutive failures")
}

func TestTotalAttemptLimitForcesCompletion(t *testing.T) {
	th := policy.Thresholds{MaxConsecutiveFailures: 100, MaxTotalAttempts: 4, NoProgressThreshold: 100, RegressionDivisor: 2}
	f := newFixture(t, th)
	f.directive(t, "task")
	f.seedAttempts(t, ledger.VerdictBlocked, 4)

	d, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, d.Blocked())
	assert.Contains(t, f.attempts(t)[4].Reason, "total")
	assert.Empty(t, f.judge.Calls())
}

func TestStagnationBlocksWithoutJudge(t *testing.T) {
	th := policy.Thresholds{MaxConsecutiveFailures: 10, MaxTotalAttempts: 20, NoProgressThreshold: 2, RegressionDivisor: 2}
	f := newFixture(t, th, judge.Pass("should not be asked"))
	f.directive(t, "task")
	f.seedAttempts(t, ledger.VerdictIncomplete, 2)
	for range 2 {
		_, err := f.store.RecordFingerprint("same", "Edit")
		require.NoError(t, err)
	}

	d, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)

	require.True(t, d.Blocked())
	assert.Contains(t, d.Reason(), "clarification")
	assert.Empty(t, f.judge.Calls())

	attempts := f.attempts(t)
	assert.Equal(t, ledger.VerdictBlocked, attempts[len(attempts)-1].Verdict)
	assert.Equal(t, d.Reason(), attempts[len(attempts)-1].Reason)
}

func TestStagnationReachableWithDefaults(t *testing.T) {
	th := policy.DefaultThresholds()
	f := newFixture(t, th, judge.Pass("should not be asked"))
	f.directive(t, "task")
	f.seedAttempts(t, ledger.VerdictIncomplete, th.NoProgressThreshold)
	for range th.NoProgressThreshold {
		_, err := f.store.RecordFingerprint("same", "Edit")
		require.NoError(t, err)
	}

	d, err := f.orch.Decide(context.Background(), Request{})
	require.NoError(t, err)

	require.True(t, d.Blocked())
	assert.Contains(t, d.Reason(), "clarification")
	assert.Empty(t, f.judge.Calls())
}

func TestStopHookActiveAllows(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(), judge.Fail("should not be asked"))
	f.directive(t, "task")

	d, err := f.orch.Decide(context.Background(), Request{StopHookActive: true})
	require.NoError(t, err)

	assert.False(t, d.Blocked())
	assert.Empty(t, f.judge.Calls())
	assert.Empty(t, f.attempts(t))
}

func TestCollaboratorFailuresDegrade(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(), judge.Fail("not yet"))
	f.directive(t, "task")
	ws := &fakeWorkspace{err: errors.New("git missing")}
	orch := New(f.store, f.judge, ws, fakeTranscript{err: errors.New("unreadable")}, Options{
		Thresholds:  policy.DefaultThresholds(),
		IncludeDiff: true,
	})

	d, err := orch.Decide(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, d.Blocked())

	calls := f.judge.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Diff)
	assert.Empty(t, calls[0].LastMessage)
	assert.Empty(t, calls[0].Fingerprint)

	fps, _ := f.store.Fingerprints()
	assert.Empty(t, fps)
	assert.True(t, strings.HasPrefix(judge.BuildPrompt(calls[0]), "## Active directives"))
}

func TestDiffDisabledSkipsDiff(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(), judge.Pass("ok"))
	f.directive(t, "task")
	orch := New(f.store, f.judge, f.ws, nil, Options{Thresholds: policy.DefaultThresholds()})

	_, err := orch.Decide(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, int32(0), f.ws.diffCalls.Load())
	assert.Nil(t, f.judge.Calls()[0].Diff)
}

func TestLedgerWriteFailurePropagates(t *testing.T) {
	f := newFixture(t, policy.DefaultThresholds(), judge.Fail("nope"))
	f.directive(t, "task")
	f.backend.SaveErr = errors.New("disk full")

	_, err := f.orch.Decide(context.Background(), Request{})
	assert.ErrorContains(t, err, "disk full")
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "allow", Allow().String())
	assert.Equal(t, "block", Block("x").String())
	assert.Empty(t, Allow().Reason())
}
