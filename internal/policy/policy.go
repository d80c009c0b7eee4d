// Package policy decides, from the ledger's history alone, when retrying is
// pointless: hard attempt budgets (Enforcer) and trajectory heuristics
// (Analyzer).
package policy

import "github.com/fakeyudi/stopgate/internal/ledger"

// Thresholds are the named knobs behind both checks.
type Thresholds struct {
	MaxConsecutiveFailures int
	MaxTotalAttempts       int
	NoProgressThreshold    int
	// RegressionDivisor splits stagnant from regressing: fewer distinct
	// fingerprints than failures/RegressionDivisor counts as oscillation.
	RegressionDivisor int
}

// DefaultThresholds mirrors the configuration defaults. NoProgressThreshold
// sits below MaxConsecutiveFailures so a stalled session is blocked with
// feedback before the failure budget forces completion.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxConsecutiveFailures: 5,
		MaxTotalAttempts:       10,
		NoProgressThreshold:    3,
		RegressionDivisor:      2,
	}
}

// History is the read side of the ledger both checks need.
type History interface {
	StopAttempts() ([]ledger.StopAttempt, error)
	Fingerprints() ([]ledger.Fingerprint, error)
}

// ConsecutiveFailures counts incomplete verdicts from the newest attempt
// backward, stopping at the first other verdict.
func ConsecutiveFailures(attempts []ledger.StopAttempt) int {
	n := 0
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Verdict != ledger.VerdictIncomplete {
			break
		}
		n++
	}
	return n
}
