package ragkitcmder

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragkit"
	"github.com/nevindra/ragkit/ingest"
)

type ragCommander struct {
	topK     int
	showDocs bool
}

const ragSystemPrompt = `You answer questions using only the numbered context passages provided.
If the context does not contain the answer, say that you do not know.
Cite passages by their number in square brackets.`

const ragLongDesc string = `Retrieve the documents most relevant to a question, then stream an answer
grounded on them, one sentence per line.

Example:
  ragkit rag "How do refunds work?"
  ragkit rag --top 8 --show-sources "Which regions are supported?"`

func newRagCmd(d deps) *cobra.Command {
	cmder := &ragCommander{}
	cmd := &cobra.Command{
		Use:   "rag <question>",
		Short: "Answer a question from stored documents",
		Long:  ragLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, d, func(ctx context.Context, a *app) error {
				return cmder.run(ctx, cmd, a, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().String("user", "", "Answer from documents owned by this user (default from config)")
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 0, "Number of passages to retrieve (default from config)")
	cmd.Flags().BoolVar(&cmder.showDocs, "show-sources", false, "Print the retrieved passages after the answer")
	return cmd
}

func (c *ragCommander) run(ctx context.Context, cmd *cobra.Command, a *app, question string) error {
	emb, err := a.embedding()
	if err != nil {
		return err
	}
	st, err := a.store(ctx, emb)
	if err != nil {
		return err
	}
	docs, err := a.retriever(st, emb, a.userID(cmd)).Query(ctx, question, c.topK)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		a.logger.Warn("no documents retrieved", "question", question)
	}

	p, err := a.provider(ctx)
	if err != nil {
		return err
	}
	if err := printSentences(cmd, p.Stream(ctx, ragPrompt(question, docs))); err != nil {
		return err
	}

	if c.showDocs {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		for i, d := range docs {
			printResult(out, i+1, d)
		}
	}
	return nil
}

// ragPrompt numbers the retrieved passages into a context block ahead of
// the question.
func ragPrompt(question string, docs []ragkit.Document) ragkit.ChatRequest {
	var b strings.Builder
	b.WriteString("Context:\n")
	if len(docs) == 0 {
		b.WriteString("(no passages found)\n")
	}
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d]", i+1)
		if src, ok := d.Metadata[ingest.MetaSource].(string); ok && src != "" {
			fmt.Fprintf(&b, " (%s)", src)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(d.PageContent))
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return ragkit.NewPrompt(b.String(), ragSystemPrompt)
}
