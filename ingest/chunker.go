package ingest

import (
	"strings"

	"github.com/nevindra/ragkit"
)

// Chunker splits text into chunks suitable for embedding.
type Chunker interface {
	Chunk(text string) []string
}

// ChunkerOption configures a chunker implementation.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	maxTokens     int
	overlapTokens int
}

func defaultChunkerConfig() chunkerConfig {
	return chunkerConfig{maxTokens: 512, overlapTokens: 50}
}

// WithMaxTokens sets the maximum tokens per chunk (approximated as tokens*4 chars).
func WithMaxTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.maxTokens = n }
}

// WithOverlapTokens sets the overlap between chunks in tokens.
func WithOverlapTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlapTokens = n }
}

// RecursiveChunker splits text by paragraphs, then sentences, then words,
// and packs the pieces into chunks of at most maxChars bytes. Consecutive
// chunks share up to overlapChars bytes of trailing context.
//
// Sentences are found with ragkit.Segmenter, so chunk boundaries agree with
// the sentences a streaming provider yields.
type RecursiveChunker struct {
	maxChars     int
	overlapChars int
}

var _ Chunker = (*RecursiveChunker)(nil)

// NewRecursiveChunker creates a RecursiveChunker with the given options.
func NewRecursiveChunker(opts ...ChunkerOption) *RecursiveChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxTokens <= 0 {
		cfg.maxTokens = defaultChunkerConfig().maxTokens
	}
	if cfg.overlapTokens < 0 || cfg.overlapTokens >= cfg.maxTokens {
		cfg.overlapTokens = 0
	}
	return &RecursiveChunker{
		maxChars:     cfg.maxTokens * 4,
		overlapChars: cfg.overlapTokens * 4,
	}
}

// Chunk splits text into overlapping chunks.
func (rc *RecursiveChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= rc.maxChars {
		return []string{text}
	}

	var pieces []string
	for _, p := range splitParagraphs(text) {
		pieces = append(pieces, rc.split(p)...)
	}
	return pack(pieces, rc.maxChars, rc.overlapChars)
}

// split breaks a paragraph into pieces no longer than maxChars.
func (rc *RecursiveChunker) split(p string) []string {
	if len(p) <= rc.maxChars {
		return []string{p}
	}
	var pieces []string
	for _, s := range sentencesOf(p) {
		if len(s) <= rc.maxChars {
			pieces = append(pieces, s)
			continue
		}
		pieces = append(pieces, splitWords(s, rc.maxChars)...)
	}
	return pieces
}

// splitParagraphs splits on blank lines and drops empty paragraphs.
func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentencesOf runs text through a flushing Segmenter so the unterminated
// tail is kept as the last sentence.
func sentencesOf(text string) []string {
	seg := ragkit.NewSegmenter(ragkit.WithFlushRemainder(true))
	out := seg.Consume(text)
	return append(out, seg.Finish()...)
}

// splitWords packs words into pieces of at most maxChars, cutting words that
// are longer than maxChars on their own.
func splitWords(text string, maxChars int) []string {
	var pieces []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
	}
	for _, w := range strings.Fields(text) {
		for len(w) > maxChars {
			flush()
			pieces = append(pieces, w[:maxChars])
			w = w[maxChars:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	flush()
	return pieces
}

// pack joins pieces with newlines into chunks of at most maxChars. When a
// chunk is closed, the start of the next one repeats the closed chunk's last
// overlapChars bytes (cut at a word boundary) if it still fits.
func pack(pieces []string, maxChars, overlapChars int) []string {
	var chunks []string
	var cur strings.Builder
	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+1+len(p) > maxChars {
			closed := cur.String()
			chunks = append(chunks, closed)
			cur.Reset()
			if tail := overlapTail(closed, overlapChars); tail != "" && len(tail)+1+len(p) <= maxChars {
				cur.WriteString(tail)
			}
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// overlapTail returns at most n trailing bytes of text starting at a word
// boundary.
func overlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if i := strings.IndexAny(tail, " \n"); i >= 0 {
		return strings.TrimSpace(tail[i+1:])
	}
	return ""
}
