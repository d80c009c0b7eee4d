package ledger

import (
	"fmt"
	"time"
)

// SchemaVersion is the only ledger format this package reads or writes.
const SchemaVersion = 1

// DirectiveKind classifies how a user instruction relates to earlier ones.
type DirectiveKind string

const (
	KindInitial       DirectiveKind = "initial"
	KindFollowup      DirectiveKind = "followup"
	KindClarification DirectiveKind = "clarification"
)

// DirectiveStatus is the lifecycle state of a directive.
type DirectiveStatus string

const (
	StatusActive     DirectiveStatus = "active"
	StatusSuperseded DirectiveStatus = "superseded"
	StatusCompleted  DirectiveStatus = "completed"
	StatusAbandoned  DirectiveStatus = "abandoned"
)

// AttemptVerdict is the recorded outcome of one stop evaluation.
type AttemptVerdict string

const (
	VerdictComplete   AttemptVerdict = "complete"
	VerdictIncomplete AttemptVerdict = "incomplete"
	VerdictBlocked    AttemptVerdict = "blocked"
	VerdictError      AttemptVerdict = "error"
)

// Directive is a captured user instruction the session is expected to satisfy.
type Directive struct {
	ID               string          `json:"id"`
	Text             string          `json:"text"`
	NormalizedIntent string          `json:"normalized_intent,omitempty"`
	Kind             DirectiveKind   `json:"kind"`
	Status           DirectiveStatus `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// CriterionResult is one checked requirement inside a stop attempt.
type CriterionResult struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
}

// StopAttempt is an immutable record of one completion evaluation.
type StopAttempt struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Verdict           AttemptVerdict    `json:"verdict"`
	Reason            string            `json:"reason"`
	FingerprintBefore string            `json:"fingerprint_before,omitempty"`
	FingerprintAfter  string            `json:"fingerprint_after,omitempty"`
	Criteria          []CriterionResult `json:"criteria,omitempty"`
}

// FingerprintChanged reports whether both fingerprints were captured and differ.
func (a StopAttempt) FingerprintChanged() bool {
	return a.FingerprintBefore != "" && a.FingerprintAfter != "" && a.FingerprintBefore != a.FingerprintAfter
}

// Fingerprint is a content hash of the workspace change-state.
type Fingerprint struct {
	Hash        string    `json:"hash"`
	AfterAction string    `json:"after_action,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Baseline is the change-state captured at session start.
type Baseline struct {
	Branch       string    `json:"branch"`
	BaseRevision string    `json:"base_revision"`
	Dirty        bool      `json:"dirty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Ledger is the aggregate persisted for one session.
type Ledger struct {
	SchemaVersion int           `json:"schema_version"`
	SessionID     string        `json:"session_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Directives    []Directive   `json:"directives"`
	StopAttempts  []StopAttempt `json:"stop_attempts"`
	Fingerprints  []Fingerprint `json:"fingerprints"`
	Baseline      *Baseline     `json:"baseline,omitempty"`
}

// Clone returns a deep copy of l.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Directives = make([]Directive, len(l.Directives))
	for i, d := range l.Directives {
		if d.CompletedAt != nil {
			t := *d.CompletedAt
			d.CompletedAt = &t
		}
		c.Directives[i] = d
	}
	c.StopAttempts = make([]StopAttempt, len(l.StopAttempts))
	for i, a := range l.StopAttempts {
		if a.Criteria != nil {
			a.Criteria = append([]CriterionResult(nil), a.Criteria...)
		}
		c.StopAttempts[i] = a
	}
	c.Fingerprints = append(make([]Fingerprint, 0, len(l.Fingerprints)), l.Fingerprints...)
	if l.Baseline != nil {
		b := *l.Baseline
		c.Baseline = &b
	}
	return &c
}

// Validate checks the structural invariants of a loaded ledger.
func (l *Ledger) Validate() error {
	if l.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", l.SchemaVersion)
	}
	if l.SessionID == "" {
		return fmt.Errorf("missing session id")
	}
	for i, d := range l.Directives {
		if d.ID == "" {
			return fmt.Errorf("directive %d: missing id", i)
		}
		if !d.Kind.Valid() {
			return fmt.Errorf("directive %s: invalid kind %q", d.ID, d.Kind)
		}
		if !d.Status.Valid() {
			return fmt.Errorf("directive %s: invalid status %q", d.ID, d.Status)
		}
		if (d.Status == StatusCompleted) != (d.CompletedAt != nil) {
			return fmt.Errorf("directive %s: completed_at must be set only for completed directives", d.ID)
		}
	}
	for i, a := range l.StopAttempts {
		if a.ID == "" {
			return fmt.Errorf("stop attempt %d: missing id", i)
		}
		if !a.Verdict.Valid() {
			return fmt.Errorf("stop attempt %s: invalid verdict %q", a.ID, a.Verdict)
		}
	}
	for i, f := range l.Fingerprints {
		if f.Hash == "" {
			return fmt.Errorf("fingerprint %d: missing hash", i)
		}
	}
	return nil
}

func (k DirectiveKind) Valid() bool {
	switch k {
	case KindInitial, KindFollowup, KindClarification:
		return true
	}
	return false
}

func (s DirectiveStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuperseded, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

func (v AttemptVerdict) Valid() bool {
	switch v {
	case VerdictComplete, VerdictIncomplete, VerdictBlocked, VerdictError:
		return true
	}
	return false
}
