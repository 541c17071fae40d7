package ingest

import "log/slog"

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithChunker replaces the default RecursiveChunker.
func WithChunker(c Chunker) Option {
	return func(ing *Ingestor) { ing.chunker = c }
}

// WithBatchSize sets the number of chunks per Embed() call (default 64).
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.batchSize = n
		}
	}
}

// WithExtractor registers an Extractor for a given ContentType.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Ingestor) { ing.extractors[ct] = e }
}

// WithMetadata adds fixed metadata to every stored chunk. The per-chunk keys
// set by the ingestor take precedence.
func WithMetadata(meta map[string]any) Option {
	return func(ing *Ingestor) {
		for k, v := range meta {
			ing.metadata[k] = v
		}
	}
}

// WithLogger sets a structured logger for the ingestor.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}
