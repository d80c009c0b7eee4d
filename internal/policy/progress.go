package policy

import "github.com/fakeyudi/stopgate/internal/ledger"

// Trend classifies the session's trajectory.
type Trend string

const (
	TrendImproving  Trend = "improving"
	TrendStagnant   Trend = "stagnant"
	TrendRegressing Trend = "regressing"
)

// ProgressReport is the Analyzer's classification plus the evidence for it.
type ProgressReport struct {
	Trend                Trend
	ConsecutiveFailures  int
	DistinctFingerprints int
	Reason               string
	Recommendation       string
}

// AnalyzeProgress detects two failure shapes, a flatlined workspace and an
// oscillating one, and treats everything else as improving.
func AnalyzeProgress(attempts []ledger.StopAttempt, fingerprints []ledger.Fingerprint, t Thresholds) ProgressReport {
	r := ProgressReport{
		ConsecutiveFailures:  ConsecutiveFailures(attempts),
		DistinctFingerprints: distinctTail(fingerprints, t.NoProgressThreshold),
		Trend:                TrendImproving,
	}
	if r.ConsecutiveFailures == 0 || r.ConsecutiveFailures < t.NoProgressThreshold {
		return r
	}

	divisor := t.RegressionDivisor
	if divisor <= 0 {
		divisor = 2
	}
	switch {
	case r.DistinctFingerprints <= 1:
		r.Trend = TrendStagnant
		r.Reason = "no workspace change across repeated failed attempts"
		r.Recommendation = "The workspace has not changed across repeated failed stop attempts. " +
			"Ask the user for clarification on what is still missing instead of retrying."
	case float64(r.DistinctFingerprints) < float64(r.ConsecutiveFailures)/float64(divisor):
		r.Trend = TrendRegressing
		r.Reason = "oscillation detected: work appears to be undone and redone"
		r.Recommendation = "Recent changes keep returning the workspace to earlier states. " +
			"Stop reverting and settle on one approach."
	default:
		r.Trend = TrendStagnant
		r.Reason = "many attempts, no convergence"
		r.Recommendation = "Many stop attempts have failed without converging. " +
			"Consider a different approach or ask the user which requirement is unmet."
	}
	return r
}

// distinctTail counts distinct hashes among the last n fingerprints.
func distinctTail(fingerprints []ledger.Fingerprint, n int) int {
	if n <= 0 {
		return 0
	}
	start := max(len(fingerprints)-n, 0)
	seen := make(map[string]struct{}, n)
	for _, f := range fingerprints[start:] {
		seen[f.Hash] = struct{}{}
	}
	return len(seen)
}

// Analyzer applies AnalyzeProgress to a live ledger.
type Analyzer struct {
	history    History
	thresholds Thresholds
}

func NewAnalyzer(h History, t Thresholds) *Analyzer {
	return &Analyzer{history: h, thresholds: t}
}

func (a *Analyzer) AnalyzeProgress() (ProgressReport, error) {
	attempts, err := a.history.StopAttempts()
	if err != nil {
		return ProgressReport{}, err
	}
	fingerprints, err := a.history.Fingerprints()
	if err != nil {
		return ProgressReport{}, err
	}
	return AnalyzeProgress(attempts, fingerprints, a.thresholds), nil
}
