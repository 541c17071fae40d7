package ragkit

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Segmenter turns a sequence of text fragments into complete sentences.
//
// A sentence boundary is a '.', '!' or '?' followed by one or more whitespace
// characters. Text after the last boundary is kept until more content
// arrives. A Segmenter belongs to a single stream and is not safe for
// concurrent use.
type Segmenter struct {
	buf   string
	flush bool
}

// SegmenterOption configures a Segmenter.
type SegmenterOption func(*Segmenter)

// WithFlushRemainder makes Finish return the trimmed unterminated tail as a
// final sentence. By default the tail is dropped.
func WithFlushRemainder(enabled bool) SegmenterOption {
	return func(s *Segmenter) { s.flush = enabled }
}

// NewSegmenter returns an empty Segmenter.
func NewSegmenter(opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Consume appends chunk to the buffer and returns the sentences it completed,
// trimmed and in order. Empty segments are dropped.
func (s *Segmenter) Consume(chunk string) []string {
	s.buf += chunk
	parts := splitSentences(s.buf)

	// If the buffer does not end on terminal punctuation, the last segment
	// is incomplete and stays buffered.
	if endsWithTerminal(s.buf) {
		s.buf = ""
	} else {
		s.buf = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}

	var out []string
	for _, p := range parts {
		if cleaned := strings.TrimSpace(p); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// Pending returns the buffered text not yet part of a completed sentence.
func (s *Segmenter) Pending() string { return s.buf }

// Finish ends the stream and clears the buffer. The remainder is returned
// only when WithFlushRemainder is enabled.
//
// Dropping the remainder matches the behaviour callers have depended on so
// far, but it loses a final sentence the model did not punctuate. Enable the
// flush once downstream consumers agree to receive it.
func (s *Segmenter) Finish() []string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	if !s.flush || rest == "" {
		return nil
	}
	return []string{rest}
}

// Sentences threads chunks through a fresh Segmenter and yields each
// completed sentence. An upstream error is yielded once and ends the
// sequence; buffered text is discarded. Stopping iteration early stops
// pulling from chunks.
func Sentences(chunks iter.Seq2[StreamChunk, error], opts ...SegmenterOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		seg := NewSegmenter(opts...)
		for chunk, err := range chunks {
			if err != nil {
				yield("", err)
				return
			}
			for _, sentence := range seg.Consume(chunk.Content) {
				if !yield(sentence, nil) {
					return
				}
			}
		}
		for _, sentence := range seg.Finish() {
			if !yield(sentence, nil) {
				return
			}
		}
	}
}

// Collect drains a sentence sequence. On error it returns the sentences
// received before the failure together with the error.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func endsWithTerminal(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return isTerminal(r)
}

// splitSentences splits text after every terminal punctuation mark that is
// followed by whitespace. The whitespace run is consumed. The result always
// has at least one element.
func splitSentences(text string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !isTerminal(r) {
			continue
		}
		j := i
		for j < len(text) {
			ws, n := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(ws) {
				break
			}
			j += n
		}
		if j > i {
			parts = append(parts, text[start:i])
			start = j
			i = j
		}
	}
	return append(parts, text[start:])
}
