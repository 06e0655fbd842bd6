package receiptgate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/receiptgate/internal/auxiliary"
	"github.com/hazyhaar/receiptgate/internal/config"
	"github.com/hazyhaar/receiptgate/internal/store"
)

func newAuxCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aux",
		Short: "Rebuild the advisory edge and embedding projections",
	}
	cmd.AddCommand(newAuxRebuildEdgesCommand(root))
	cmd.AddCommand(newAuxRebuildEmbeddingsCommand(root))
	return cmd
}

func newAuxRebuildEdgesCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-edges",
		Short: "Truncate and rebuild the caused_by edge projection",
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

			n, err := aux.RebuildEdges(cmd.Context(), st, cfg.Ledger.TenantID)
			if err != nil {
				return WrapExitError(ExitRuntimeError, "rebuilding edges", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d edges\n", n)
			return nil
		},
	}
}

func newAuxRebuildEmbeddingsCommand(root *RootOptions) *cobra.Command {
	var dims int
	cmd := &cobra.Command{
		Use:   "rebuild-embeddings",
		Short: "Recompute stale or missing semantic embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.ConfigPath)
			if err != nil {
				return WrapExitError(ExitConfigError, "loading config", err)
			}
			if !cfg.Ledger.EnableSemanticLayer {
				return NewExitError(ExitConfigError, "ledger.enable_semantic_layer is false; nothing to rebuild")
			}
			st, err := store.Open(cfg.Database.URL)
			if err != nil {
				return WrapExitError(ExitRuntimeError, "opening database", err)
			}
			defer st.Close()

			provider := aux.NewHashEmbeddingProvider(dims)
			n, err := aux.RebuildEmbeddings(cmd.Context(), st, cfg.Ledger.TenantID, provider)
			if err != nil {
				return WrapExitError(ExitRuntimeError, "rebuilding embeddings", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d embeddings using model %s\n", n, provider.Model())
			return nil
		},
	}
	cmd.Flags().IntVar(&dims, "dims", 32, "embedding vector width")
	return cmd
}
