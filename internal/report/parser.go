package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fakeyudi/stopgate/internal/ledger"
)

// Parser deserializes a report file back into a ledger.
type Parser interface {
	Parse(data []byte) (*ledger.Ledger, error)
}

// ParserFor picks a parser by file extension; anything but .json is
// treated as Markdown.
func ParserFor(path string) Parser {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return &JSONParser{}
	}
	return &MarkdownParser{}
}

// JSONParser parses a JSON report or a raw ledger file.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*ledger.Ledger, error) {
	var l ledger.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse JSON report: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger in report: %w", err)
	}
	return &l, nil
}

// MarkdownParser parses a Markdown report by extracting the embedded base64
// JSON payload from the sentinel comments.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*ledger.Ledger, error) {
	content := string(data)

	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("not a valid stopgate report: missing version sentinel")
	}

	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid stopgate report: missing data payload")
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid stopgate report: malformed data payload")
	}
	encoded := content[start : start+end]

	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("not a valid stopgate report: corrupted base64 payload: %w", err)
	}

	var l ledger.Ledger
	if err := json.Unmarshal(jsonBytes, &l); err != nil {
		return nil, fmt.Errorf("not a valid stopgate report: failed to parse embedded JSON: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("not a valid stopgate report: %w", err)
	}
	return &l, nil
}
