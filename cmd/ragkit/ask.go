package ragkitcmder

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragkit"
)

type askCommander struct {
	system string
}

const askLongDesc string = `Send a single prompt and print the complete response.

Example:
  ragkit ask "Summarize the plot of Hamlet in two sentences."
  ragkit ask --system "Answer in French." "What is the capital of Peru?"`

func newAskCmd(d deps) *cobra.Command {
	cmder := &askCommander{}
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a prompt and print the full response",
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, d, func(ctx context.Context, a *app) error {
				return cmder.run(ctx, cmd, a, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().StringVarP(&cmder.system, "system", "s", "", "System prompt")
	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, a *app, prompt string) error {
	p, err := a.provider(ctx)
	if err != nil {
		return err
	}
	text, err := p.Invoke(ctx, ragkit.NewPrompt(prompt, c.system))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
