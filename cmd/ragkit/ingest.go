package ragkitcmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragkit/ingest"
)

type ingestCommander struct {
	maxTokens     int
	overlapTokens int
	batchSize     int
}

const ingestLongDesc string = `Extract, chunk, embed and store one or more files.

Supported formats are picked by extension: .txt, .md, .html and .pdf.
Anything else is read as plain text.

Example:
  ragkit ingest handbook.pdf notes/*.md
  ragkit ingest --user alice --max-tokens 256 faq.html`

func newIngestCmd(d deps) *cobra.Command {
	cmder := &ingestCommander{}
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest files into the vector store",
		Long:  ingestLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, d, func(ctx context.Context, a *app) error {
				return cmder.run(ctx, cmd, a, args)
			})
		},
	}
	cmd.Flags().String("user", "", "Owner of the ingested documents (default from config)")
	cmd.Flags().IntVar(&cmder.maxTokens, "max-tokens", 512, "Maximum chunk size in tokens")
	cmd.Flags().IntVar(&cmder.overlapTokens, "overlap", 50, "Overlap between chunks in tokens")
	cmd.Flags().IntVar(&cmder.batchSize, "batch-size", 64, "Chunks per embedding request")
	return cmd
}

func (c *ingestCommander) run(ctx context.Context, cmd *cobra.Command, a *app, files []string) error {
	emb, err := a.embedding()
	if err != nil {
		return err
	}
	st, err := a.store(ctx, emb)
	if err != nil {
		return err
	}

	ing := ingest.NewIngestor(st, emb, a.userID(cmd),
		ingest.WithChunker(ingest.NewRecursiveChunker(
			ingest.WithMaxTokens(c.maxTokens),
			ingest.WithOverlapTokens(c.overlapTokens),
		)),
		ingest.WithBatchSize(c.batchSize),
		ingest.WithLogger(a.logger),
	)

	out := cmd.OutOrStdout()
	total := 0
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := ing.IngestFile(ctx, content, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		total += res.ChunkCount
		fmt.Fprintf(out, "%s: %d chunks (document %s)\n", path, res.ChunkCount, res.DocumentID)
	}
	a.logger.Info("ingest completed", "files", len(files), "chunks", total)
	return nil
}
