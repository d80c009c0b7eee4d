// Package ledger persists the directive and stop-attempt history of an
// agent session. The backing document is the single source of truth: a
// Store loads it once per process in Initialize and writes it back
// synchronously on every mutation.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotInitialized is returned when a Store is used before Initialize.
	ErrNotInitialized = errors.New("ledger store not initialized")

	// ErrDirectiveNotFound is returned when updating an unknown directive.
	ErrDirectiveNotFound = errors.New("directive not found")
)

// Options configures a Store.
type Options struct {
	// ArchiveCorrupted moves an unreadable ledger aside instead of overwriting it.
	ArchiveCorrupted bool
	Logger           *zap.Logger
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Store is the ledger repository.
type Store struct {
	backend Backend
	opts    Options
	log     *zap.Logger
	ledger  *Ledger
}

// NewStore returns a Store over backend. Call Initialize before use.
func NewStore(backend Backend, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, opts: opts, log: log.Named("ledger")}
}

func (s *Store) now() time.Time { return s.opts.Now().UTC() }

// Initialize loads and validates the persisted ledger, replacing it with a
// fresh one when it is missing or invalid. The update timestamp is always
// refreshed and persisted.
func (s *Store) Initialize() error {
	l, err := s.load()
	if err != nil {
		return err
	}
	if l == nil {
		l = s.fresh()
	}
	l.UpdatedAt = s.now()
	if err := s.persist(l); err != nil {
		return err
	}
	s.ledger = l
	return nil
}

// load returns nil, nil when no usable ledger exists.
func (s *Store) load() (*Ledger, error) {
	data, err := s.backend.Load()
	if errors.Is(err, ErrNoLedger) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var l Ledger
	err = json.Unmarshal(data, &l)
	if err == nil {
		err = l.Validate()
	}
	if err == nil {
		return &l, nil
	}

	if s.opts.ArchiveCorrupted {
		dest, archErr := s.backend.Archive(s.now())
		if archErr != nil {
			s.log.Warn("ledger invalid and could not be archived; overwriting",
				zap.Error(err), zap.NamedError("archive_error", archErr))
			return nil, nil
		}
		s.log.Warn("ledger invalid; archived and recreated", zap.Error(err), zap.String("archived_to", dest))
		return nil, nil
	}
	s.log.Warn("ledger invalid; overwriting", zap.Error(err))
	return nil, nil
}

func (s *Store) fresh() *Ledger {
	now := s.now()
	return &Ledger{
		SchemaVersion: SchemaVersion,
		SessionID:     uuid.New().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Directives:    []Directive{},
		StopAttempts:  []StopAttempt{},
		Fingerprints:  []Fingerprint{},
	}
}

func (s *Store) persist(l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	return s.backend.Save(data)
}

// mutate applies fn to a copy of the ledger and commits it once persisted.
func (s *Store) mutate(fn func(l *Ledger) error) error {
	if s.ledger == nil {
		return ErrNotInitialized
	}
	next := s.ledger.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	if err := s.persist(next); err != nil {
		return err
	}
	s.ledger = next
	return nil
}

// AddDirective appends a new active directive.
func (s *Store) AddDirective(text string, kind DirectiveKind, normalizedIntent string) (Directive, error) {
	if !kind.Valid() {
		return Directive{}, fmt.Errorf("invalid directive kind %q", kind)
	}
	d := Directive{
		ID:               uuid.New().String(),
		Text:             text,
		NormalizedIntent: normalizedIntent,
		Kind:             kind,
		Status:           StatusActive,
		CreatedAt:        s.now(),
	}
	err := s.mutate(func(l *Ledger) error {
		l.Directives = append(l.Directives, d)
		return nil
	})
	if err != nil {
		return Directive{}, err
	}
	return d, nil
}

// UpdateDirectiveStatus transitions a directive. Completion stamps
// CompletedAt; any other status clears it.
func (s *Store) UpdateDirectiveStatus(id string, status DirectiveStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid directive status %q", status)
	}
	return s.mutate(func(l *Ledger) error {
		for i := range l.Directives {
			d := &l.Directives[i]
			if d.ID != id {
				continue
			}
			d.Status = status
			if status == StatusCompleted {
				t := s.now()
				d.CompletedAt = &t
			} else {
				d.CompletedAt = nil
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDirectiveNotFound, id)
	})
}

// RecordStopAttempt assigns an id and timestamp to a and appends it.
func (s *Store) RecordStopAttempt(a StopAttempt) (StopAttempt, error) {
	if !a.Verdict.Valid() {
		return StopAttempt{}, fmt.Errorf("invalid stop attempt verdict %q", a.Verdict)
	}
	a.ID = uuid.New().String()
	a.Timestamp = s.now()
	if a.Criteria != nil {
		a.Criteria = append([]CriterionResult(nil), a.Criteria...)
	}
	err := s.mutate(func(l *Ledger) error {
		l.StopAttempts = append(l.StopAttempts, a)
		return nil
	})
	if err != nil {
		return StopAttempt{}, err
	}
	return a, nil
}

// RecordFingerprint appends a workspace fingerprint.
func (s *Store) RecordFingerprint(hash, afterAction string) (Fingerprint, error) {
	if hash == "" {
		return Fingerprint{}, errors.New("empty fingerprint hash")
	}
	f := Fingerprint{Hash: hash, AfterAction: afterAction, RecordedAt: s.now()}
	err := s.mutate(func(l *Ledger) error {
		l.Fingerprints = append(l.Fingerprints, f)
		return nil
	})
	if err != nil {
		return Fingerprint{}, err
	}
	return f, nil
}

// RecordFingerprintIfChanged appends hash only when it differs from the most
// recently logged fingerprint. It reports whether an entry was written.
func (s *Store) RecordFingerprintIfChanged(hash, afterAction string) (bool, error) {
	if s.ledger == nil {
		return false, ErrNotInitialized
	}
	if n := len(s.ledger.Fingerprints); n > 0 && s.ledger.Fingerprints[n-1].Hash == hash {
		return false, nil
	}
	if _, err := s.RecordFingerprint(hash, afterAction); err != nil {
		return false, err
	}
	return true, nil
}

// SetBaseline stores the session-start snapshot, replacing any previous one.
func (s *Store) SetBaseline(b Baseline) error {
	if b.CapturedAt.IsZero() {
		b.CapturedAt = s.now()
	}
	return s.mutate(func(l *Ledger) error {
		l.Baseline = &b
		return nil
	})
}

// Reset replaces the ledger with a fresh one under a new session id.
func (s *Store) Reset() error {
	if s.ledger == nil {
		return ErrNotInitialized
	}
	l := s.fresh()
	if err := s.persist(l); err != nil {
		return err
	}
	s.ledger = l
	return nil
}

// Snapshot returns a copy of the whole ledger.
func (s *Store) Snapshot() (*Ledger, error) {
	if s.ledger == nil {
		return nil, ErrNotInitialized
	}
	return s.ledger.Clone(), nil
}

// SessionID returns the ledger's session identity.
func (s *Store) SessionID() (string, error) {
	if s.ledger == nil {
		return "", ErrNotInitialized
	}
	return s.ledger.SessionID, nil
}

func (s *Store) Directives() ([]Directive, error) {
	l, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return l.Directives, nil
}

// ActiveDirectives returns only directives with status active.
func (s *Store) ActiveDirectives() ([]Directive, error) {
	all, err := s.Directives()
	if err != nil {
		return nil, err
	}
	active := make([]Directive, 0, len(all))
	for _, d := range all {
		if d.Status == StatusActive {
			active = append(active, d)
		}
	}
	return active, nil
}

func (s *Store) StopAttempts() ([]StopAttempt, error) {
	l, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return l.StopAttempts, nil
}

func (s *Store) Fingerprints() ([]Fingerprint, error) {
	l, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return l.Fingerprints, nil
}

// Baseline returns the session baseline, or nil if none was captured.
func (s *Store) Baseline() (*Baseline, error) {
	l, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return l.Baseline, nil
}
