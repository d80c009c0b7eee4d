package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestReadInput(t *testing.T) {
	doc := `{"session_id":"abc","transcript_path":"/tmp/t.jsonl","cwd":"/work",` +
		`"hook_event_name":"Stop","stop_hook_active":true,"extra":"ignored"}`

	in, err := ReadInput(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadInput: %v", err)
	}
	if in.SessionID != "abc" || in.Cwd != "/work" || in.HookEventName != EventStop || !in.StopHookActive {
		t.Errorf("unexpected input: %+v", in)
	}
	if in.TranscriptPath != "/tmp/t.jsonl" {
		t.Errorf("TranscriptPath = %q", in.TranscriptPath)
	}
}

func TestReadInputErrors(t *testing.T) {
	if _, err := ReadInput(strings.NewReader("")); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty input: got %v, want ErrEmptyInput", err)
	}
	if _, err := ReadInput(strings.NewReader("{not json")); err == nil {
		t.Error("expected an error for malformed input")
	}
}

func TestWriteBlock(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBlock(&buf, "Missing:\n- tests <unit>"); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if !strings.Contains(buf.String(), "<unit>") {
		t.Errorf("HTML escaping should be disabled: %s", buf.String())
	}

	var out StopOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if out.Decision != "block" || out.Reason != "Missing:\n- tests <unit>" {
		t.Errorf("unexpected output: %+v", out)
	}
}

func TestResetsLedger(t *testing.T) {
	for source, want := range map[string]bool{"startup": true, "clear": true, "resume": false, "compact": false, "": false} {
		if got := (&Input{Source: source}).ResetsLedger(); got != want {
			t.Errorf("ResetsLedger(%q) = %v, want %v", source, got, want)
		}
	}
}
