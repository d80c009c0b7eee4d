// Package decision runs one stop evaluation: budget and trajectory checks
// first, then the judge, recording each outcome in the ledger.
package decision

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/stopgate/internal/judge"
	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/policy"
)

// StopEvaluationAction labels fingerprints recorded during a stop cycle.
const StopEvaluationAction = "stop-evaluation"

// Decision is the outcome of one cycle: allow the session to stop, or block
// it with feedback for the agent.
type Decision struct {
	block  bool
	reason string
}

func Allow() Decision { return Decision{} }

func Block(reason string) Decision { return Decision{block: true, reason: reason} }

// Blocked reports whether the agent must keep working.
func (d Decision) Blocked() bool { return d.block }

// Reason is the feedback for a block; empty for an allow.
func (d Decision) Reason() string { return d.reason }

func (d Decision) String() string {
	if d.block {
		return "block"
	}
	return "allow"
}

// Ledger is the slice of the ledger store the orchestrator reads and writes.
type Ledger interface {
	policy.History
	ActiveDirectives() ([]ledger.Directive, error)
	RecordStopAttempt(a ledger.StopAttempt) (ledger.StopAttempt, error)
	RecordFingerprint(hash, afterAction string) (ledger.Fingerprint, error)
	UpdateDirectiveStatus(id string, status ledger.DirectiveStatus) error
}

// Workspace reports the change-state of the working tree.
type Workspace interface {
	Fingerprint(ctx context.Context) (string, error)
	Diff(ctx context.Context) (*judge.DiffSummary, error)
}

// Transcript yields the agent's final message.
type Transcript interface {
	LastAssistantMessage(ctx context.Context) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	Thresholds  policy.Thresholds
	IncludeDiff bool
	Logger      *zap.Logger
}

// Orchestrator decides whether the agent may stop.
type Orchestrator struct {
	ledger     Ledger
	judge      judge.Judge
	workspace  Workspace  // may be nil
	transcript Transcript // may be nil
	enforcer   *policy.Enforcer
	analyzer   *policy.Analyzer
	opts       Options
	log        *zap.Logger
}

func New(l Ledger, j judge.Judge, ws Workspace, tr Transcript, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		ledger:     l,
		judge:      j,
		workspace:  ws,
		transcript: tr,
		enforcer:   policy.NewEnforcer(l, opts.Thresholds),
		analyzer:   policy.NewAnalyzer(l, opts.Thresholds),
		opts:       opts,
		log:        log.Named("decision"),
	}
}

// Request carries per-invocation input from the hook.
type Request struct {
	// StopHookActive is set when this stop follows a block from us.
	StopHookActive bool
}

// Decide runs one evaluation cycle. It returns an error only when the
// ledger cannot be read or written; judge and collaborator failures are
// absorbed.
func (o *Orchestrator) Decide(ctx context.Context, req Request) (Decision, error) {
	active, err := o.ledger.ActiveDirectives()
	if err != nil {
		return Decision{}, err
	}
	if len(active) == 0 {
		o.log.Debug("no active directives; allowing stop")
		return Allow(), nil
	}

	limits, err := o.enforcer.CheckLimits()
	if err != nil {
		return Decision{}, err
	}
	if limits.Exceeded {
		if _, err := o.ledger.RecordStopAttempt(ledger.StopAttempt{
			Verdict: ledger.VerdictComplete,
			Reason:  "attempt limit reached: " + limits.Reason,
		}); err != nil {
			return Decision{}, err
		}
		o.log.Info("attempt limit reached; allowing stop",
			zap.String("reason", limits.Reason),
			zap.Int("consecutive_failures", limits.ConsecutiveFailures),
			zap.Int("total_attempts", limits.TotalAttempts),
		)
		return Allow(), nil
	}

	progress, err := o.analyzer.AnalyzeProgress()
	if err != nil {
		return Decision{}, err
	}
	if progress.Trend == policy.TrendStagnant && progress.ConsecutiveFailures >= o.opts.Thresholds.NoProgressThreshold {
		if _, err := o.ledger.RecordStopAttempt(ledger.StopAttempt{
			Verdict: ledger.VerdictBlocked,
			Reason:  progress.Recommendation,
		}); err != nil {
			return Decision{}, err
		}
		o.log.Info("progress stalled; blocking without judge",
			zap.String("trend", string(progress.Trend)),
			zap.String("reason", progress.Reason),
			zap.Int("distinct_fingerprints", progress.DistinctFingerprints),
		)
		return Block(progress.Recommendation), nil
	}

	if req.StopHookActive {
		o.log.Debug("stop hook already active; allowing stop")
		return Allow(), nil
	}

	return o.evaluate(ctx, active)
}

// evidence is what the collaborators produced for one cycle.
type evidence struct {
	diff        *judge.DiffSummary
	lastMessage string
	fingerprint string
}

// gather queries the collaborators concurrently. Failures degrade to empty
// values.
func (o *Orchestrator) gather(ctx context.Context) evidence {
	var ev evidence
	g, gctx := errgroup.WithContext(ctx)

	if o.workspace != nil {
		if o.opts.IncludeDiff {
			g.Go(func() error {
				d, err := o.workspace.Diff(gctx)
				if err != nil {
					o.log.Warn("diff unavailable", zap.Error(err))
					return nil
				}
				ev.diff = d
				return nil
			})
		}
		g.Go(func() error {
			fp, err := o.workspace.Fingerprint(gctx)
			if err != nil {
				o.log.Warn("fingerprint unavailable", zap.Error(err))
				return nil
			}
			ev.fingerprint = fp
			return nil
		})
	}
	if o.transcript != nil {
		g.Go(func() error {
			msg, err := o.transcript.LastAssistantMessage(gctx)
			if err != nil {
				o.log.Warn("last message unavailable", zap.Error(err))
				return nil
			}
			ev.lastMessage = msg
			return nil
		})
	}

	_ = g.Wait() // goroutines never return errors
	return ev
}

func (o *Orchestrator) evaluate(ctx context.Context, active []ledger.Directive) (Decision, error) {
	attempts, err := o.ledger.StopAttempts()
	if err != nil {
		return Decision{}, err
	}
	fingerprints, err := o.ledger.Fingerprints()
	if err != nil {
		return Decision{}, err
	}

	ev := o.gather(ctx)

	before := ""
	switch {
	case len(attempts) > 0:
		before = attempts[len(attempts)-1].FingerprintAfter
	case len(fingerprints) > 0:
		before = fingerprints[len(fingerprints)-1].Hash
	}
	// One entry per cycle, repeats included: the analyzer reads a flat
	// workspace from identical consecutive hashes.
	if ev.fingerprint != "" {
		if _, err := o.ledger.RecordFingerprint(ev.fingerprint, StopEvaluationAction); err != nil {
			return Decision{}, err
		}
	}

	v := o.judge.Evaluate(ctx, judge.Request{
		Directives:  active,
		Diff:        ev.diff,
		LastMessage: ev.lastMessage,
		Attempts:    attempts,
		Fingerprint: ev.fingerprint,
	})

	attempt := ledger.StopAttempt{
		Verdict:           ledger.VerdictIncomplete,
		Reason:            v.Reason,
		FingerprintBefore: before,
		FingerprintAfter:  ev.fingerprint,
	}
	if v.Pass {
		attempt.Verdict = ledger.VerdictComplete
	}
	for _, item := range v.MissingItems {
		attempt.Criteria = append(attempt.Criteria, ledger.CriterionResult{Criterion: item, Passed: false})
	}
	if _, err := o.ledger.RecordStopAttempt(attempt); err != nil {
		return Decision{}, err
	}

	o.log.Info("judge verdict recorded",
		zap.Bool("pass", v.Pass),
		zap.Bool("judge_unavailable", v.JudgeUnavailable),
		zap.Int("missing_items", len(v.MissingItems)),
		zap.Bool("fingerprint_changed", attempt.FingerprintChanged()),
	)

	if !v.Pass {
		return Block(judge.FormatBlockReason(v)), nil
	}
	for _, d := range active {
		if err := o.ledger.UpdateDirectiveStatus(d.ID, ledger.StatusCompleted); err != nil {
			return Decision{}, fmt.Errorf("completing directive %s: %w", d.ID, err)
		}
	}
	return Allow(), nil
}
