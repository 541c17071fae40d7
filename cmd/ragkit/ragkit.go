// Package ragkitcmder provides the ragkit command tree: ask, stream, ingest,
// search and rag.
package ragkitcmder

import (
	"github.com/spf13/cobra"
)

const ragkitLongDesc string = `ragkit talks to LLM backends through one streaming interface and keeps a
vector store of your documents for retrieval-augmented answers.

Configuration is read from ragkit.toml (or --config / RAGKIT_CONFIG), then
overridden by environment variables such as GEMINI_API_KEY, GEMINI_MODEL_ID
and RAGKIT_DATABASE_URL.

Examples:
  ragkit ask "What is a vector store?"
  ragkit stream "Tell me a short story."
  ragkit ingest notes.md handbook.pdf
  ragkit search "refund policy" --top 3
  ragkit rag "How do refunds work?"`

const ragkitShortDesc string = "ragkit - streaming LLM and retrieval toolkit"

// NewRagkitCmd returns the root command.
func NewRagkitCmd() *cobra.Command {
	return newRagkitCmd(defaultDeps())
}

func newRagkitCmd(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ragkit",
		Short:         ragkitShortDesc,
		Long:          ragkitLongDesc,
		SilenceUsage:  true,
	}

	// Global flags
	cmd.PersistentFlags().String("config", "", "Path to ragkit.toml")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "", "Log format: text, json, pretty")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to this file")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	cmd.AddCommand(newAskCmd(d))
	cmd.AddCommand(newStreamCmd(d))
	cmd.AddCommand(newIngestCmd(d))
	cmd.AddCommand(newSearchCmd(d))
	cmd.AddCommand(newRagCmd(d))

	return cmd
}
