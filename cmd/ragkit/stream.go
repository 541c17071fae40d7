package ragkitcmder

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragkit"
)

type streamCommander struct {
	system string
}

const streamLongDesc string = `Stream a response and print each sentence on its own line as soon as it
is complete.

An unterminated trailing fragment is dropped unless llm.flush_remainder is
set in the config.

Example:
  ragkit stream "Explain TCP slow start."`

func newStreamCmd(d deps) *cobra.Command {
	cmder := &streamCommander{}
	cmd := &cobra.Command{
		Use:   "stream <prompt>",
		Short: "Stream a response one sentence per line",
		Long:  streamLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, d, func(ctx context.Context, a *app) error {
				p, err := a.provider(ctx)
				if err != nil {
					return err
				}
				return printSentences(cmd, p.Stream(ctx, ragkit.NewPrompt(strings.Join(args, " "), cmder.system)))
			})
		},
	}
	cmd.Flags().StringVarP(&cmder.system, "system", "s", "", "System prompt")
	return cmd
}

// printSentences writes each sentence on its own line and stops at the
// first error.
func printSentences(cmd *cobra.Command, sentences iter.Seq2[string, error]) error {
	out := cmd.OutOrStdout()
	for sentence, err := range sentences {
		if err != nil {
			return err
		}
		fmt.Fprintln(out, sentence)
	}
	return nil
}
