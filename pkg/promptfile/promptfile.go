package promptfile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Record is one prompt submission read from a JSONL stream.
type Record struct {
	SessionID string
	RequestID string
	Prompt    string
}

// maxLineBytes bounds a single JSONL line (1 MiB).
const maxLineBytes = 1 << 20

// Load reads newline-delimited JSON records of the form
// {"session_id": "...", "request_id": "...", "prompt": "..."}.
// Blank lines are skipped; invalid JSON fails with the line number.
func Load(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var records []Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !gjson.Valid(line) {
			return nil, fmt.Errorf("invalid JSON on line %d", lineNo)
		}

		parsed := gjson.Parse(line)
		prompt := parsed.Get("prompt")
		if !prompt.Exists() {
			return nil, fmt.Errorf("missing \"prompt\" field on line %d", lineNo)
		}

		records = append(records, Record{
			SessionID: parsed.Get("session_id").String(),
			RequestID: parsed.Get("request_id").String(),
			Prompt:    prompt.String(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}

	return records, nil
}
