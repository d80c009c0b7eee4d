package judge

import (
	"context"
	"sync"
)

// Stub is a deterministic Judge for tests. It replays Verdicts in order and
// repeats the last one once they run out; with none queued it passes.
type Stub struct {
	mu       sync.Mutex
	verdicts []Verdict
	calls    []Request
}

// NewStub returns a Stub that answers with verdicts in order.
func NewStub(verdicts ...Verdict) *Stub {
	return &Stub{verdicts: verdicts}
}

// Evaluate implements Judge.
func (s *Stub) Evaluate(_ context.Context, req Request) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)
	switch len(s.verdicts) {
	case 0:
		return Pass("stub pass")
	case 1:
		return s.verdicts[0]
	}
	v := s.verdicts[0]
	s.verdicts = s.verdicts[1:]
	return v
}

// Calls returns every request the stub has seen.
func (s *Stub) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Pass builds a passing verdict.
func Pass(reason string) Verdict {
	return Verdict{
		Pass:               true,
		Reason:             reason,
		MissingItems:       []string{},
		QuestionsForUser:   []string{},
		ForwardProgress:    true,
		SuggestedNextSteps: []string{},
	}
}

// Fail builds a failing verdict listing missing items.
func Fail(reason string, missing ...string) Verdict {
	if missing == nil {
		missing = []string{}
	}
	return Verdict{
		Reason:             reason,
		MissingItems:       missing,
		QuestionsForUser:   []string{},
		ForwardProgress:    true,
		SuggestedNextSteps: []string{},
	}
}
