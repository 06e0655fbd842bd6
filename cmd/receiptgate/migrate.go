package receiptgate

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/receiptgate/internal/config"
	"github.com/hazyhaar/receiptgate/internal/store"
)

func newMigrateCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema migration ledger",
	}
	cmd.AddCommand(newMigrateUpCommand(root))
	cmd.AddCommand(newMigrateStatusCommand(root))
	return cmd
}

func newMigrateUpCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.ConfigPath)
			if err != nil {
				return WrapExitError(ExitConfigError, "loading config", err)
			}
			st, err := store.Open(cfg.Database.URL)
			if err != nil {
				return WrapExitError(ExitRuntimeError, "opening database", err)
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return WrapExitError(ExitMigrationFailure, "applying migrations", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newMigrateStatusCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied/pending state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.ConfigPath)
			if err != nil {
				return WrapExitError(ExitConfigError, "loading config", err)
			}
			st, err := store.Open(cfg.Database.URL)
			if err != nil {
				return WrapExitError(ExitRuntimeError, "opening database", err)
			}
			defer st.Close()

			rows, err := st.MigrationStatus(cmd.Context())
			if err != nil {
				return WrapExitError(ExitRuntimeError, "reading migration status", err)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Version", "Name", "Applied"})
			for _, r := range rows {
				applied := "no"
				if r.Applied {
					applied = "yes"
				}
				tw.AppendRow(table.Row{r.Version, r.Name, applied})
			}
			tw.Render()
			return nil
		},
	}
}
