package collector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
)

// maxTranscriptLine bounds one JSONL record; tool results can be large.
const maxTranscriptLine = 16 << 20

// transcriptEntry is the subset of an agent transcript record we read.
type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type transcriptBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TranscriptReader extracts the agent's final words from a JSONL transcript.
type TranscriptReader struct {
	Path string
	// MaxLineBytes caps one record; longer records are skipped. Zero means
	// maxTranscriptLine.
	MaxLineBytes int
}

// LastAssistantMessage returns the joined text blocks of the last assistant
// record that carries any text. A missing path yields "" without error.
func (r *TranscriptReader) LastAssistantMessage(ctx context.Context) (string, error) {
	if r.Path == "" {
		return "", nil
	}
	f, err := os.Open(r.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	limit := r.MaxLineBytes
	if limit <= 0 {
		limit = maxTranscriptLine
	}

	var last string
	br := bufio.NewReaderSize(f, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		line, oversized, readErr := readRecord(br, limit)
		if !oversized {
			if text, ok := assistantRecord(line); ok {
				last = text
			}
		}
		if readErr == io.EOF {
			return last, nil
		}
		if readErr != nil {
			return last, readErr
		}
	}
}

// readRecord reads one newline-terminated record. A record longer than
// limit is consumed and reported as oversized without being buffered.
func readRecord(br *bufio.Reader, limit int) (line []byte, oversized bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > limit {
				oversized, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, oversized, err
		}
	}
}

// assistantRecord returns the text of an assistant record. Blank,
// partially written and foreign records yield ok == false.
func assistantRecord(line []byte) (string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false
	}
	var e transcriptEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return "", false
	}
	if e.Type != "assistant" && e.Message.Role != "assistant" {
		return "", false
	}
	text := assistantText(e.Message.Content)
	return text, text != ""
}

// assistantText accepts either a plain string or an array of content blocks.
func assistantText(content json.RawMessage) string {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks []transcriptBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}
