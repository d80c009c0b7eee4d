package judge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// VerdictSchema is the JSON schema the oracle's answer must satisfy.
const VerdictSchema = `{
  "type": "object",
  "properties": {
    "pass": {"type": "boolean"},
    "reason": {"type": "string"},
    "missing_items": {"type": "array", "items": {"type": "string"}},
    "questions_for_user": {"type": "array", "items": {"type": "string"}},
    "forward_progress": {"type": "boolean"},
    "completion_estimate": {"type": "number", "minimum": 0, "maximum": 100},
    "suggested_next_steps": {"type": "array", "items": {"type": "string"}},
    "unnecessary_question_detected": {"type": "boolean"},
    "autonomy_instruction_detected": {"type": "boolean"}
  },
  "required": ["pass", "reason", "missing_items", "questions_for_user", "forward_progress", "suggested_next_steps"],
  "additionalProperties": false
}`

// ErrNoVerdict is returned when no envelope yields a verdict candidate.
var ErrNoVerdict = errors.New("no verdict found in oracle output")

// envelope covers every wrapper shape the oracle CLI has been seen to emit.
type envelope struct {
	StructuredOutput json.RawMessage `json:"structured_output"`
	Result           json.RawMessage `json:"result"`
	Content          []contentBlock  `json:"content"`
	IsError          bool            `json:"is_error"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseResponse extracts and validates a Verdict from raw oracle stdout.
func ParseResponse(raw []byte) (Verdict, error) {
	candidate, err := extractCandidate(bytes.TrimSpace(raw))
	if err != nil {
		return Verdict{}, err
	}
	return validateVerdict(candidate)
}

func extractCandidate(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty oracle output")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("oracle output is not a JSON object: %w", err)
	}

	// A bare verdict needs no unwrapping.
	if _, ok := fields["pass"]; ok {
		return raw, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unrecognized oracle envelope: %w", err)
	}
	if env.IsError {
		return nil, fmt.Errorf("oracle reported an error: %s", truncate(string(env.Result), 500))
	}
	if isObject(env.StructuredOutput) {
		return env.StructuredOutput, nil
	}
	if len(env.Result) > 0 {
		return fromResult(env.Result)
	}
	if len(env.Content) > 0 {
		return fromBlocks(env.Content)
	}
	return nil, ErrNoVerdict
}

// fromResult handles a result field holding an object, a content wrapper,
// or text that contains JSON.
func fromResult(result json.RawMessage) (json.RawMessage, error) {
	if isObject(result) {
		var inner envelope
		if err := json.Unmarshal(result, &inner); err == nil && len(inner.Content) > 0 {
			return fromBlocks(inner.Content)
		}
		return result, nil
	}
	var text string
	if err := json.Unmarshal(result, &text); err != nil {
		return nil, fmt.Errorf("result field is neither object nor string: %w", err)
	}
	return fromText(text)
}

func fromBlocks(blocks []contentBlock) (json.RawMessage, error) {
	for _, b := range blocks {
		if b.Type == "text" || (b.Type == "" && b.Text != "") {
			return fromText(b.Text)
		}
	}
	return nil, errors.New("no text block in oracle content")
}

func fromText(text string) (json.RawMessage, error) {
	text = stripFences(strings.TrimSpace(text))
	if text == "" {
		return nil, ErrNoVerdict
	}
	if !json.Valid([]byte(text)) {
		// Tolerate prose around a single JSON object.
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start || !json.Valid([]byte(text[start:end+1])) {
			return nil, fmt.Errorf("oracle text is not JSON: %s", truncate(text, 200))
		}
		text = text[start : end+1]
	}
	return json.RawMessage(text), nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

// wireVerdict uses pointers so missing required fields are detectable.
type wireVerdict struct {
	Pass                        *bool     `json:"pass"`
	Reason                      *string   `json:"reason"`
	MissingItems                *[]string `json:"missing_items"`
	QuestionsForUser            *[]string `json:"questions_for_user"`
	ForwardProgress             *bool     `json:"forward_progress"`
	CompletionEstimate          *float64  `json:"completion_estimate"`
	SuggestedNextSteps          *[]string `json:"suggested_next_steps"`
	UnnecessaryQuestionDetected *bool     `json:"unnecessary_question_detected"`
	AutonomyInstructionDetected *bool     `json:"autonomy_instruction_detected"`
}

// validateVerdict enforces VerdictSchema on a candidate object.
func validateVerdict(candidate json.RawMessage) (Verdict, error) {
	var w wireVerdict
	if err := json.Unmarshal(candidate, &w); err != nil {
		return Verdict{}, fmt.Errorf("verdict does not match schema: %w", err)
	}

	var missing []string
	if w.Pass == nil {
		missing = append(missing, "pass")
	}
	if w.Reason == nil {
		missing = append(missing, "reason")
	}
	if w.MissingItems == nil || *w.MissingItems == nil {
		missing = append(missing, "missing_items")
	}
	if w.QuestionsForUser == nil || *w.QuestionsForUser == nil {
		missing = append(missing, "questions_for_user")
	}
	if w.ForwardProgress == nil {
		missing = append(missing, "forward_progress")
	}
	if w.SuggestedNextSteps == nil || *w.SuggestedNextSteps == nil {
		missing = append(missing, "suggested_next_steps")
	}
	if len(missing) > 0 {
		return Verdict{}, fmt.Errorf("verdict missing required fields: %s", strings.Join(missing, ", "))
	}
	if e := w.CompletionEstimate; e != nil && (*e < 0 || *e > 100) {
		return Verdict{}, fmt.Errorf("completion_estimate %v out of range 0-100", *e)
	}

	v := Verdict{
		Pass:               *w.Pass,
		Reason:             *w.Reason,
		MissingItems:       *w.MissingItems,
		QuestionsForUser:   *w.QuestionsForUser,
		ForwardProgress:    *w.ForwardProgress,
		CompletionEstimate: w.CompletionEstimate,
		SuggestedNextSteps: *w.SuggestedNextSteps,
	}
	if w.UnnecessaryQuestionDetected != nil {
		v.UnnecessaryQuestionDetected = *w.UnnecessaryQuestionDetected
	}
	if w.AutonomyInstructionDetected != nil {
		v.AutonomyInstructionDetected = *w.AutonomyInstructionDetected
	}
	return v, nil
}

// truncate shortens s to at most maxLen runes, ellipsis included.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
