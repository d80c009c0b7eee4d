// Package hook defines the JSON documents exchanged with the agent host on
// hook stdin and stdout.
package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Event names sent in hook_event_name.
const (
	EventStop             = "Stop"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventPostToolUse      = "PostToolUse"
	EventSessionStart     = "SessionStart"
)

// maxInputBytes bounds the hook document; prompts can be long but not unbounded.
const maxInputBytes = 8 << 20

// ErrEmptyInput is returned when stdin carries no document.
var ErrEmptyInput = errors.New("empty hook input")

// Input is the document the agent host writes to a hook's stdin. Fields not
// relevant to an event are empty.
type Input struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`

	// StopHookActive is true when the agent is already continuing because
	// of an earlier block from this hook.
	StopHookActive bool `json:"stop_hook_active"`

	Prompt   string `json:"prompt"`    // UserPromptSubmit
	ToolName string `json:"tool_name"` // PostToolUse
	Source   string `json:"source"`    // SessionStart: startup | resume | clear | compact
}

// ReadInput decodes one hook document from r.
func ReadInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read hook input: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse hook input: %w", err)
	}
	return &in, nil
}

// StopOutput is the Stop hook's reply. An allow writes nothing.
type StopOutput struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// WriteBlock writes a block document telling the agent to keep working.
func WriteBlock(w io.Writer, reason string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(StopOutput{Decision: "block", Reason: reason})
}

// ResetsLedger reports whether a SessionStart source begins a new task.
func (in *Input) ResetsLedger() bool {
	return in.Source == "startup" || in.Source == "clear"
}
