package policy

import (
	"fmt"

	"github.com/fakeyudi/stopgate/internal/ledger"
)

// LimitResult reports whether a retry budget is exhausted. Counters are
// populated either way.
type LimitResult struct {
	Exceeded            bool
	Reason              string
	ConsecutiveFailures int
	TotalAttempts       int
}

// CheckLimits compares the attempt log against the budgets in t.
func CheckLimits(attempts []ledger.StopAttempt, t Thresholds) LimitResult {
	r := LimitResult{
		ConsecutiveFailures: ConsecutiveFailures(attempts),
		TotalAttempts:       len(attempts),
	}
	switch {
	case t.MaxConsecutiveFailures > 0 && r.ConsecutiveFailures >= t.MaxConsecutiveFailures:
		r.Exceeded = true
		r.Reason = fmt.Sprintf("max consecutive failures reached (%d/%d)", r.ConsecutiveFailures, t.MaxConsecutiveFailures)
	case t.MaxTotalAttempts > 0 && r.TotalAttempts >= t.MaxTotalAttempts:
		r.Exceeded = true
		r.Reason = fmt.Sprintf("max total stop attempts reached (%d/%d)", r.TotalAttempts, t.MaxTotalAttempts)
	}
	return r
}

// Enforcer applies CheckLimits to a live ledger.
type Enforcer struct {
	history    History
	thresholds Thresholds
}

func NewEnforcer(h History, t Thresholds) *Enforcer {
	return &Enforcer{history: h, thresholds: t}
}

func (e *Enforcer) CheckLimits() (LimitResult, error) {
	attempts, err := e.history.StopAttempts()
	if err != nil {
		return LimitResult{}, err
	}
	return CheckLimits(attempts, e.thresholds), nil
}
