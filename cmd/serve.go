package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"opsdesk/pkg/config"
	"opsdesk/pkg/erp"
	"opsdesk/pkg/erp/odoo"
	erpwire "opsdesk/pkg/erp/wire"
	"opsdesk/pkg/flow"
	"opsdesk/pkg/guard"
	"opsdesk/pkg/inference"
	inferencefantasy "opsdesk/pkg/inference/fantasy"
	inferenceopenai "opsdesk/pkg/inference/openai"
	"opsdesk/pkg/logger"
	memorysqlite "opsdesk/pkg/memory/sqlite"
	"opsdesk/pkg/report"
	"opsdesk/pkg/resilience"
	"opsdesk/pkg/secrets"
	"opsdesk/pkg/server"
	"opsdesk/pkg/tenant"
	tenantsqlite "opsdesk/pkg/tenant/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration server",
	Long:  "Runs the OpsDesk orchestration core with its HTTP boundary, stores, and provider registry.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, cleanup, err := buildService(cfg, log)
		if err != nil {
			log.Error("Failed to initialize orchestration core", "error", err)
			return
		}
		defer cleanup()

		log.Info("OpsDesk started", "tenant_db", cfg.Storage.TenantDB, "memory_db", cfg.Storage.MemoryDB)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Server runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func buildService(cfg *config.Config, log *slog.Logger) (*server.Service, func(), error) {
	reporter := report.NewSlogReporter(slog.Default())
	retry := resilience.NewPolicy(cfg.Retry)

	tenantStore, err := tenantsqlite.Open(cfg.Storage.TenantDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open tenant store: %w", err)
	}

	memoryStore, err := memorysqlite.Open(cfg.Storage.MemoryDB)
	if err != nil {
		_ = tenantStore.Close()
		return nil, nil, fmt.Errorf("open memory store: %w", err)
	}

	cleanup := func() {
		_ = memoryStore.Close()
		_ = tenantStore.Close()
	}

	resolver, err := tenant.NewResolver(tenantStore, retry, reporter, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Real adapters stay registered without a master key; dispatch contains
	// the failure per tenant instead of refusing to start.
	keyring, err := secrets.LoadKeyring()
	if err != nil {
		log.Warn("Credential master key unavailable; real ERP adapters will not execute", "error", err)
		keyring = nil
	}

	wireClient, err := erpwire.NewClient(
		time.Duration(cfg.ERP.RequestTimeoutSeconds)*time.Second,
		retry,
		log,
		erpwire.WithSessionTTL(time.Duration(cfg.ERP.SessionTTLMinutes)*time.Minute),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initialize erp wire client: %w", err)
	}

	adapters := erp.NewRegistry()
	adapters.Register("odoo", func(creds erp.Credentials) (erp.Adapter, error) {
		return odoo.New(wireClient, creds, log)
	})

	dispatcher, err := guard.NewDispatcher(adapters, keyring, reporter, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	providers := inference.NewRegistry()
	providers.Register("mock", &inference.Mock{Confidence: 0.9})
	registerModelProviders(providers, cfg, log)

	orchestrator, err := flow.New(resolver, providers, nil, memoryStore, dispatcher, reporter, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	svc, err := server.NewService(cfg, orchestrator, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return svc, cleanup, nil
}

// registerModelProviders binds the model-backed providers that can be
// constructed from the current environment. Tenants referencing an
// unregistered provider fail per request at lookup.
func registerModelProviders(providers *inference.Registry, cfg *config.Config, log *slog.Logger) {
	if client, err := inferenceopenai.New(cfg.Providers.OpenAI); err != nil {
		log.Warn("OpenAI provider unavailable", "error", err)
	} else {
		providers.Register("openai", client)
	}

	if client, err := inferencefantasy.New(cfg.Providers.OpenAI); err != nil {
		log.Warn("Fantasy provider unavailable", "error", err)
	} else {
		providers.Register("fantasy", client)
	}
}
