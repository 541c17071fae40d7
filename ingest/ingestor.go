// Package ingest turns files and text into embedded chunks in a
// ragkit.VectorStore: extract, chunk, normalise, embed, add.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/nevindra/ragkit"
)

// Metadata keys set on every stored chunk.
const (
	MetaDocumentID = "document_id"
	MetaSource     = "source"
	MetaTitle      = "title"
	MetaChunkIndex = "chunk_index"
	MetaPage       = "page"
	MetaHeading    = "heading"
)

// IngestResult holds the outcome of an ingest operation.
type IngestResult struct {
	DocumentID string
	Source     string
	Title      string
	ChunkCount int
	// IDs are the store ids of the chunks, in chunk order.
	IDs []string
}

// Ingestor provides end-to-end ingestion: extract → chunk → embed → store.
// Every chunk is stored under the ingestor's user id.
type Ingestor struct {
	store      ragkit.VectorStore
	embedding  ragkit.EmbeddingProvider
	userID     string
	chunker    Chunker
	extractors map[ContentType]Extractor
	batchSize  int
	metadata   map[string]any
	logger     *slog.Logger
}

// NewIngestor creates an Ingestor with sensible defaults.
func NewIngestor(store ragkit.VectorStore, emb ragkit.EmbeddingProvider, userID string, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:     store,
		embedding: emb,
		userID:    userID,
		chunker:   NewRecursiveChunker(),
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeHTML:      HTMLExtractor{},
			TypeMarkdown:  MarkdownExtractor{},
			TypePDF:       NewPDFExtractor(),
		},
		batchSize: 64,
		metadata:  map[string]any{},
		logger:    ragkit.NopLogger(),
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestText ingests plain text content.
func (ing *Ingestor) IngestText(ctx context.Context, text, source, title string) (IngestResult, error) {
	return ing.ingest(ctx, ExtractResult{Text: text}, source, title)
}

// IngestFile ingests file content, detecting the content type from the filename extension.
func (ing *Ingestor) IngestFile(ctx context.Context, content []byte, filename string) (IngestResult, error) {
	ct := ContentTypeFromExtension(filepath.Ext(filename))
	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}

	var res ExtractResult
	var err error
	if me, ok := extractor.(MetadataExtractor); ok {
		res, err = me.ExtractWithMeta(content)
	} else {
		res.Text, err = extractor.Extract(content)
	}
	if err != nil {
		return IngestResult{}, fmt.Errorf("extract %s: %w", ct, err)
	}
	return ing.ingest(ctx, res, filename, filepath.Base(filename))
}

// IngestReader reads all content from r and ingests it, detecting content type from filename.
func (ing *Ingestor) IngestReader(ctx context.Context, r io.Reader, filename string) (IngestResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return IngestResult{}, fmt.Errorf("read: %w", err)
	}
	return ing.IngestFile(ctx, data, filename)
}

type chunk struct {
	text string
	meta map[string]any
}

func (ing *Ingestor) ingest(ctx context.Context, res ExtractResult, source, title string) (IngestResult, error) {
	if ing.userID == "" {
		return IngestResult{}, errors.New("ingest: user id is required")
	}
	start := time.Now()
	result := IngestResult{DocumentID: ragkit.NewID(), Source: source, Title: title}

	chunks := ing.chunk(res, result)
	if len(chunks) == 0 {
		ing.logger.Debug("ingest: nothing to store", "source", source)
		return result, nil
	}

	texts := make([]string, len(chunks))
	metas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		texts[i] = c.text
		metas[i] = c.meta
	}

	vectors, err := ing.embed(ctx, texts)
	if err != nil {
		return IngestResult{}, err
	}
	ids, err := ing.store.Add(ctx, vectors, texts, metas)
	if err != nil {
		return IngestResult{}, fmt.Errorf("store: %w", err)
	}

	result.ChunkCount = len(ids)
	result.IDs = ids
	ing.logger.Info("ingest: document stored",
		"source", source, "chunks", len(ids), "duration", time.Since(start))
	return result, nil
}

// chunk splits the extracted text, normalises each chunk and attaches its
// metadata. Chunks that normalise to nothing are dropped and do not consume
// a chunk index.
func (ing *Ingestor) chunk(res ExtractResult, doc IngestResult) []chunk {
	var out []chunk
	cursor := 0
	for _, raw := range ing.chunker.Chunk(res.Text) {
		text := Normalize(raw)
		if text == "" {
			continue
		}

		meta := make(map[string]any, len(ing.metadata)+7)
		for k, v := range ing.metadata {
			meta[k] = v
		}
		meta[ragkit.MetaUserID] = ing.userID
		meta[MetaDocumentID] = doc.DocumentID
		meta[MetaSource] = doc.Source
		meta[MetaTitle] = doc.Title
		meta[MetaChunkIndex] = len(out)

		if len(res.Meta) > 0 {
			cursor = locate(res.Text, raw, cursor)
			if pm, ok := metaAt(res.Meta, cursor); ok {
				if pm.PageNumber > 0 {
					meta[MetaPage] = pm.PageNumber
				}
				if pm.Heading != "" {
					meta[MetaHeading] = pm.Heading
				}
			}
		}
		out = append(out, chunk{text: text, meta: meta})
	}
	return out
}

// locate returns the byte offset in text where chunk's last line starts,
// searching from cursor. The last line is never overlap from the previous
// chunk. If it cannot be found, cursor is returned unchanged.
func locate(text, chunk string, cursor int) int {
	line := chunk
	if i := strings.LastIndexByte(chunk, '\n'); i >= 0 {
		line = chunk[i+1:]
	}
	if cursor > len(text) {
		return cursor
	}
	if i := strings.Index(text[cursor:], line); i >= 0 {
		return cursor + i
	}
	return cursor
}

// embed embeds texts in batches of ing.batchSize.
func (ing *Ingestor) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += ing.batchSize {
		end := min(i+ing.batchSize, len(texts))
		batch, err := ing.embedding.Embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		if len(batch) != end-i {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors", i, end, len(batch))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
