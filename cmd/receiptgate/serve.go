package receiptgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/receiptgate/internal/config"
	"github.com/hazyhaar/receiptgate/internal/derive"
	"github.com/hazyhaar/receiptgate/internal/ledger"
	"github.com/hazyhaar/receiptgate/internal/rpc"
	"github.com/hazyhaar/receiptgate/internal/store"
	"github.com/hazyhaar/receiptgate/internal/validate"
)

func newServeCommand(root *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server exposing the receiptgate.* tool surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(root, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(root *RootOptions, addrOverride string) error {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return WrapExitError(ExitConfigError, "loading config", err)
	}
	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}

	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		return WrapExitError(ExitRuntimeError, "opening database", err)
	}
	defer st.Close()

	if cfg.Database.AutoMigrateOnStart {
		if err := st.Migrate(context.Background()); err != nil {
			return WrapExitError(ExitMigrationFailure, "applying migrations", err)
		}
	}

	schema, err := validate.CompileDefault()
	if err != nil {
		return WrapExitError(ExitRuntimeError, "compiling receipt schema", err)
	}

	led := ledger.NewLedger(st, schema, cfg.Ledger.TenantID, cfg.Ledger.ReceiptBodyMaxBytes, cfg.Ledger.EnableGraphLayer)
	eng := derive.New(st, cfg.Ledger.TenantID)

	srv := &rpc.Server{
		Ledger:     led,
		Derive:     eng,
		Service:    "receiptgate",
		Version:    Version,
		InstanceID: instanceID(cfg.Instance.ID),
		Ping:       func(ctx context.Context) error { return st.DB.PingContext(ctx) },
	}

	handler := rpc.NewRouter(srv, cfg.Auth.APIKey, cfg.Auth.AllowInsecureDev)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("receiptgate listening", "addr", cfg.Server.Addr, "database", cfg.Database.URL, "tenant_id", cfg.Ledger.TenantID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return WrapExitError(ExitRuntimeError, "server error", err)
	case <-sigCh:
		slog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return WrapExitError(ExitRuntimeError, "graceful shutdown failed", err)
		}
	}
	return nil
}

func instanceID(configured string) string {
	if configured != "" && configured != "local" {
		return configured
	}
	return fmt.Sprintf("local-%s", uuid.NewString()[:8])
}
