package ingest

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	readability "github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Extractor converts raw content to plain text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ExtractResult holds extracted text and optional per-page/section metadata.
type ExtractResult struct {
	Text string
	Meta []PageMeta
}

// PageMeta describes one page or section of extracted content. StartByte and
// EndByte mark the byte range in ExtractResult.Text it applies to.
type PageMeta struct {
	PageNumber int
	Heading    string
	StartByte  int
	EndByte    int
}

// MetadataExtractor is an optional capability for extractors that produce
// structured metadata alongside text. If an Extractor also implements
// MetadataExtractor, the ingestor uses ExtractWithMeta instead of Extract.
type MetadataExtractor interface {
	ExtractWithMeta(content []byte) (ExtractResult, error)
}

// metaAt returns the entry covering byte offset pos.
func metaAt(meta []PageMeta, pos int) (PageMeta, bool) {
	for _, m := range meta {
		if pos >= m.StartByte && pos < m.EndByte {
			return m, true
		}
	}
	return PageMeta{}, false
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypePDF       ContentType = "application/pdf"
)

// ContentTypeFromExtension maps file extensions to content types.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// --- Built-in extractors ---

// PlainTextExtractor returns content as-is.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return string(content), nil
}

// HTMLExtractor pulls the main article text out of a page with readability.
// Pages readability cannot parse fall back to StripHTML. BaseURL resolves
// relative links and defaults to a file URL.
type HTMLExtractor struct {
	BaseURL string
}

func (e HTMLExtractor) Extract(content []byte) (string, error) {
	base, err := url.Parse(e.BaseURL)
	if err != nil || e.BaseURL == "" {
		base = &url.URL{Scheme: "file", Path: "/"}
	}
	article, err := readability.FromReader(bytes.NewReader(content), base)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseWhitespace(article.TextContent), nil
	}
	return StripHTML(string(content)), nil
}

// StripHTML returns the text content of an HTML fragment. Script and style
// bodies are dropped, entities are decoded, and block elements become line
// breaks.
func StripHTML(content string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(content))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if isBlockTag(tag) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if isBlockTag(tag) {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isBlockTag(tag string) bool {
	switch tag {
	case "p", "div", "br", "hr", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "ul", "ol", "table", "tr", "blockquote", "pre",
		"section", "article", "header", "footer", "nav", "main":
		return true
	}
	return false
}

// MarkdownExtractor renders markdown to plain text by walking the goldmark
// AST. Each heading opens a section recorded in ExtractResult.Meta.
type MarkdownExtractor struct{}

var _ MetadataExtractor = MarkdownExtractor{}

func (e MarkdownExtractor) Extract(content []byte) (string, error) {
	res, err := e.ExtractWithMeta(content)
	return res.Text, err
}

func (MarkdownExtractor) ExtractWithMeta(content []byte) (ExtractResult, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(content))

	var out bytes.Buffer
	var meta []PageMeta
	headingStart := -1

	// block ends the current line and, for lines == 2, leaves a blank line
	// before the next block-level element.
	block := func(lines int) {
		if out.Len() == 0 {
			return
		}
		b := out.Bytes()
		have := 0
		for have < len(b) && b[len(b)-1-have] == '\n' {
			have++
		}
		for ; have < lines; have++ {
			out.WriteByte('\n')
		}
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if entering {
				block(2)
				if len(meta) > 0 {
					meta[len(meta)-1].EndByte = out.Len()
				}
				headingStart = out.Len()
			} else {
				meta = append(meta, PageMeta{
					Heading:   strings.TrimSpace(out.String()[headingStart:]),
					StartByte: headingStart,
				})
			}
		case *ast.Paragraph, *ast.List, *ast.Blockquote:
			if entering {
				block(2)
			}
		case *ast.TextBlock:
			if entering {
				block(1)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				block(2)
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					out.Write(seg.Value(content))
				}
				trimTrailingNewlines(&out)
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				out.Write(node.Segment.Value(content))
				if node.HardLineBreak() {
					out.WriteByte('\n')
				} else if node.SoftLineBreak() {
					out.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				out.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				out.Write(node.Label(content))
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return ExtractResult{}, fmt.Errorf("walk markdown: %w", err)
	}

	if len(meta) > 0 {
		meta[len(meta)-1].EndByte = out.Len()
	}
	return ExtractResult{Text: out.String(), Meta: meta}, nil
}

func trimTrailingNewlines(b *bytes.Buffer) {
	for b.Len() > 0 && b.Bytes()[b.Len()-1] == '\n' {
		b.Truncate(b.Len() - 1)
	}
}

// Normalize applies NFKC normalisation and collapses runs of blank lines and
// surrounding whitespace. Chunks are normalised before they are embedded.
func Normalize(s string) string {
	return collapseWhitespace(norm.NFKC.String(s))
}

// collapseWhitespace trims every line, keeps at most one blank line between
// paragraphs, and drops zero-width characters.
func collapseWhitespace(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\u200b' || r == '\ufeff' {
			return -1
		}
		return r
	}, s)

	var b strings.Builder
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimFunc(line, unicode.IsSpace)
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blank {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line)
		blank = false
	}
	return b.String()
}
