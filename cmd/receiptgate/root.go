// Package receiptgate implements the executable front-end: serve, migrate,
// aux, and version subcommands (spec §6.6), built on spf13/cobra in the
// idiom of the example pack's cobra-based CLIs.
package receiptgate

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "receiptgate",
		Short: "receiptgate, an append-only receipt ledger for obligation handoffs",
		Long: `receiptgate is an append-only, content-addressed ledger of receipts
that record the handoff of obligations between AI agents and the humans
and tools around them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config.toml")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newAuxCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}
