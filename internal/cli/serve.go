package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentgate/internal/audit"
	"github.com/andywolf/agentgate/internal/cloud/gcp"
	"github.com/andywolf/agentgate/internal/command"
	"github.com/andywolf/agentgate/internal/config"
	"github.com/andywolf/agentgate/internal/gateway"
	"github.com/andywolf/agentgate/internal/pairing"
	"github.com/andywolf/agentgate/internal/secrets"
	"github.com/andywolf/agentgate/internal/security"
	"github.com/andywolf/agentgate/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	Long: `Start the gateway and listen for validation, pairing, secret, and
webhook requests. On startup a fresh single-use pairing code is printed
once; exchange it for a bearer token via POST /v1/pair.

Example:
  agentgate serve --config .agentgate.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	serveCmd.Flags().String("audit-dir", "", "directory for the audit trail (empty disables auditing)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger := gateway.NewLogger()

	tracker := security.NewActionTracker(security.TrackerConfig{
		MaxActionsPerWindow: cfg.Budgets.MaxActionsPerHour,
		DailyCostCapCents:   cfg.Budgets.DailyCostCapCents,
	})
	validator := command.NewValidator(tracker)
	policy := command.Policy{
		Autonomy:       command.ParseAutonomy(cfg.Policy.Autonomy),
		BlockHighRisk:  cfg.Policy.BlockHighRiskCommands,
		WorkspaceOnly:  cfg.Policy.WorkspaceOnly,
		WorkspaceRoot:  cfg.Policy.WorkspaceRoot,
		ForbiddenPaths: cfg.Policy.ForbiddenPaths,
	}

	guard, code, err := pairing.NewGuard(pairing.Config{
		TokenPath:  cfg.Pairing.TokenFile,
		MaxAgeDays: cfg.Pairing.TokenMaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pairing: %w", err)
	}
	// The code goes to the operator's terminal, never to the log stream.
	fmt.Fprintf(os.Stdout, "Pairing code (single use): %s\n", code)

	store, err := openSecretStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	var verifier *webhook.Verifier
	if cfg.Webhooks.Secret != "" {
		verifier, err = webhook.NewVerifier(webhook.Config{
			Secret:          []byte(cfg.Webhooks.Secret),
			FreshnessWindow: time.Duration(cfg.Webhooks.FreshnessWindowSecs) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize webhook verifier: %w", err)
		}
	}

	var trail *audit.FileSink
	if dir, _ := cmd.Flags().GetString("audit-dir"); dir != "" {
		trail, err = audit.NewFileSink(dir)
		if err != nil {
			return fmt.Errorf("failed to open audit trail: %w", err)
		}
		defer func() { _ = trail.Close() }()

		store.SetMigrationHook(func(name string) {
			ev := audit.NewEvent(audit.CategoryMigration, "upgraded")
			ev.Detail = "secret re-encrypted in current format"
			ev.Metadata = map[string]string{"name": name}
			if err := trail.Record(ev); err != nil {
				logger.Errorf("audit record failed: %v", err)
			}
		})
	}

	srv := gateway.NewServer(gateway.ServerConfig{
		Addr:              cfg.Server.Addr,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Logger:            logger,
		Guard:             guard,
		Validator:         validator,
		Policy:            policy,
		Store:             store,
		Verifier:          verifier,
		Trail:             trail,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received signal: %v", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	}
	return nil
}

// openSecretStore builds the encrypted store, sourcing the master key from
// Secret Manager when configured and the local key file otherwise.
func openSecretStore(ctx context.Context, cfg *config.Config) (*secrets.Store, error) {
	var masterKey []byte
	var err error

	if cfg.Secrets.GCPKeySecret != "" {
		source, err := gcp.NewSecretManagerKeySource(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create key source: %w", err)
		}
		defer func() { _ = source.Close() }()

		masterKey, err = source.FetchMasterKey(ctx, cfg.Secrets.GCPKeySecret)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch master key: %w", err)
		}
	} else {
		masterKey, err = secrets.LoadOrCreateKeyFile(cfg.Secrets.KeyFile)
		if err != nil {
			return nil, err
		}
	}

	cipher, err := secrets.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}

	store, err := secrets.OpenStore(filepath.Clean(cfg.Secrets.StorePath), cipher)
	if err != nil {
		return nil, err
	}
	return store, nil
}
