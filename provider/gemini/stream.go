package gemini

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/nevindra/ragkit"
)

// maxSSELine bounds a single SSE line.
const maxSSELine = 4 * 1024 * 1024

// streamChunks parses a streamGenerateContent SSE body into text chunks.
// Non-text parts are skipped. An error payload inside the stream, or a read
// failure, is yielded once and ends the sequence.
func streamChunks(body io.Reader) iter.Seq2[ragkit.StreamChunk, error] {
	return func(yield func(ragkit.StreamChunk, error) bool) {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

		var jsonBuf strings.Builder

		emit := func(payload string) bool {
			text, err := parseStreamChunk(payload)
			if err != nil {
				yield(ragkit.StreamChunk{}, err)
				return false
			}
			return yield(ragkit.StreamChunk{Content: text}, nil)
		}

		for scanner.Scan() {
			line := scanner.Text()

			// SSE lines start with "data: ".
			if !strings.HasPrefix(line, "data: ") {
				// A payload split across lines is accumulated until complete.
				if jsonBuf.Len() > 0 {
					jsonBuf.WriteString(line)
					if isCompleteJSON(jsonBuf.String()) {
						payload := jsonBuf.String()
						jsonBuf.Reset()
						if !emit(payload) {
							return
						}
					}
				}
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "" {
				continue
			}
			if isCompleteJSON(data) {
				if !emit(data) {
					return
				}
			} else {
				jsonBuf.Reset()
				jsonBuf.WriteString(data)
			}
		}
		if err := scanner.Err(); err != nil {
			yield(ragkit.StreamChunk{}, fmt.Errorf("read stream: %w", err))
			return
		}

		if jsonBuf.Len() > 0 && isCompleteJSON(jsonBuf.String()) {
			emit(jsonBuf.String())
		}
	}
}

// parseStreamChunk extracts the text of candidates[0] from one SSE payload.
// A payload that is not valid JSON is an error: skipping it would join the
// text on either side into one sentence.
func parseStreamChunk(payload string) (string, error) {
	var parsed geminiResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", fmt.Errorf("parse stream chunk: %w", err)
	}
	if parsed.Error != nil {
		return "", &ragkit.ErrHTTP{Status: parsed.Error.Code, Body: parsed.Error.Message}
	}
	if len(parsed.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		if p.Thought || p.Text == nil {
			continue
		}
		sb.WriteString(*p.Text)
	}
	return sb.String(), nil
}

// isCompleteJSON checks whether a string has balanced braces/brackets,
// indicating it is a complete JSON value.
func isCompleteJSON(s string) bool {
	depth := 0
	inString := false
	escape := false

	for _, ch := range s {
		if escape {
			escape = false
			continue
		}
		if ch == '\\' && inString {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth == 0 && !inString
}
