package openaicompat

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/nevindra/ragkit"
)

// StreamChunks reads an SSE stream from body and yields the text delta of
// each chunk. Tool call deltas and usage-only chunks carry no text and are
// skipped. The sequence ends at the [DONE] sentinel or end of body. A
// payload that is not valid JSON ends the sequence with an error.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamChunks(body io.Reader) iter.Seq2[ragkit.StreamChunk, error] {
	return func(yield func(ragkit.StreamChunk, error) bool) {
		scanner := bufio.NewScanner(body)
		// Increase buffer for large SSE payloads.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()

			// SSE lines that carry data start with "data:".
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)

			// End-of-stream sentinel.
			if data == "[DONE]" {
				return
			}

			var chunk ChatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield(ragkit.StreamChunk{}, fmt.Errorf("parse stream chunk: %w", err))
				return
			}
			if chunk.Error != nil {
				yield(ragkit.StreamChunk{}, errors.New("api error: "+chunk.Error.Message))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta == nil || delta.Content == nil || *delta.Content == "" {
				continue
			}
			if !yield(ragkit.StreamChunk{Content: *delta.Content}, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(ragkit.StreamChunk{}, fmt.Errorf("read stream: %w", err))
		}
	}
}
