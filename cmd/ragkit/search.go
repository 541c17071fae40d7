package ragkitcmder

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragkit"
	"github.com/nevindra/ragkit/ingest"
)

type searchCommander struct {
	topK  int
	quiet bool
}

const searchLongDesc string = `Search the vector store for the chunks most similar to a query.

Use --quiet to print only document ids, one per line.

Example:
  ragkit search "refund policy"
  ragkit search "refund policy" --top 10 --user alice`

func newSearchCmd(d deps) *cobra.Command {
	cmder := &searchCommander{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored documents",
		Long:  searchLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, d, func(ctx context.Context, a *app) error {
				return cmder.run(ctx, cmd, a, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().String("user", "", "Search documents owned by this user (default from config)")
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 0, "Number of results to return (default from config)")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only document ids")
	return cmd
}

func (c *searchCommander) run(ctx context.Context, cmd *cobra.Command, a *app, query string) error {
	emb, err := a.embedding()
	if err != nil {
		return err
	}
	st, err := a.store(ctx, emb)
	if err != nil {
		return err
	}
	docs, err := a.retriever(st, emb, a.userID(cmd)).Query(ctx, query, c.topK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.quiet {
		for _, d := range docs {
			fmt.Fprintln(out, d.ID)
		}
		return nil
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, d := range docs {
		printResult(out, i+1, d)
	}
	return nil
}

const previewLen = 160

func printResult(w io.Writer, rank int, d ragkit.Document) {
	source, _ := d.Metadata[ingest.MetaSource].(string)
	fmt.Fprintf(w, "#%d  %.3f  %s\n", rank, d.Score, source)
	fmt.Fprintf(w, "    %s\n", preview(d.PageContent, previewLen))
}

// preview flattens s onto one line and cuts it to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
