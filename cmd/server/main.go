// Command server runs the admin/operator HTTP API and the gate it
// fronts: the firewall, policy engine, human approval console, audit
// log, and every settlement adapter.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	acpadapter "github.com/agentpay/firewall/internal/adapter/acp"
	ap2adapter "github.com/agentpay/firewall/internal/adapter/ap2"
	escrowadapter "github.com/agentpay/firewall/internal/adapter/escrow"
	x402adapter "github.com/agentpay/firewall/internal/adapter/x402"
	"github.com/agentpay/firewall/internal/adapter"
	"github.com/agentpay/firewall/internal/approval"
	"github.com/agentpay/firewall/internal/audit"
	"github.com/agentpay/firewall/internal/config"
	"github.com/agentpay/firewall/internal/escrow"
	"github.com/agentpay/firewall/internal/escrowchain"
	"github.com/agentpay/firewall/internal/firewall"
	"github.com/agentpay/firewall/internal/gate"
	"github.com/agentpay/firewall/internal/health"
	"github.com/agentpay/firewall/internal/intent"
	"github.com/agentpay/firewall/internal/logging"
	"github.com/agentpay/firewall/internal/metrics"
	"github.com/agentpay/firewall/internal/server"
	"github.com/agentpay/firewall/internal/traces"
	"github.com/agentpay/firewall/internal/wallet"
)

// Build info, set by ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")
	logger.Info("starting firewall", "version", Version, "commit", Commit, "build_time", BuildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, logFormat(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	buyerWallet, err := wallet.New(wallet.Config{
		RPCURL:       cfg.RPCURL,
		PrivateKey:   cfg.PrivateKey,
		ChainID:      cfg.ChainID,
		USDCContract: cfg.USDCContract,
	})
	if err != nil {
		logger.Error("failed to init wallet", "error", err)
		os.Exit(1)
	}
	defer func() { _ = buyerWallet.Close() }()

	var db *sql.DB
	var auditStore audit.Store = audit.NewMemoryStore()
	var escrowStore escrow.Store = escrow.NewMemoryStore()

	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		auditStore = audit.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		go metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	}

	var ledger *escrowchain.Ledger
	if cfg.CustodianPrivateKey != "" {
		custodianWallet, err := wallet.New(wallet.Config{
			RPCURL:       cfg.RPCURL,
			PrivateKey:   cfg.CustodianPrivateKey,
			ChainID:      cfg.ChainID,
			USDCContract: cfg.USDCContract,
		})
		if err != nil {
			logger.Error("failed to init custodian wallet", "error", err)
			os.Exit(1)
		}
		defer func() { _ = custodianWallet.Close() }()
		ledger = escrowchain.New(buyerWallet, custodianWallet)
	}

	escrowService := escrow.NewService(escrowStore, ledgerOrNil(ledger))

	escrowTimer := escrow.NewTimer(escrowService, escrowStore, logger)
	go escrowTimer.Start(ctx)
	defer escrowTimer.Stop()

	approvalHub := approval.NewHub(logger)

	g := gate.New(gate.Config{
		Policy: intent.PolicyConfig{
			MaxPerTransaction:         zeroToNil(cfg.MaxPerTransaction),
			MaxDaily:                  zeroToNil(cfg.MaxDaily),
			MaxMonthly:                zeroToNil(cfg.MaxMonthly),
			RequireEscrowAbove:        zeroToNil(cfg.RequireEscrowAbove),
			RequireHumanApprovalAbove: zeroToNil(cfg.RequireHumanApprovalAbove),
			CooldownMs:                zeroToNilInt(cfg.CooldownMs),
			AllowedRecipients:         cfg.AllowedRecipients,
			BlockedRecipients:         cfg.BlockedRecipients,
			AllowedCategories:         cfg.AllowedCategories,
		},
		Firewall: &firewall.Config{
			Enabled:                cfg.FirewallEnabled,
			EnablePatternDetection: cfg.EnablePatternDetection,
			InjectionThreshold:     cfg.InjectionThreshold,
			IntentDiffThreshold:    cfg.IntentDiffThreshold,
		},
		ApprovalCallback: approvalHub.Callback,
		Logger:           logger,
		OnDecision:       buildOnDecision(auditStore, logger),
	})

	g.RegisterAdapter(x402adapter.New(buyerWallet))
	g.RegisterAdapter(escrowadapter.New(escrowService, buyerWallet.Address()))
	if cfg.StripeAPIKey != "" {
		g.RegisterAdapter(acpadapter.New(cfg.StripeAPIKey))
	}
	g.RegisterAdapter(ap2adapter.New(cfg.MCPDefaultEndpoint))

	healthRegistry := health.NewRegistry()
	healthRegistry.Register("wallet_rpc", walletHealthCheck(buyerWallet))
	healthRegistry.Register("escrow_timer", escrowTimerHealthCheck(escrowTimer))
	if db != nil {
		healthRegistry.Register("database", databaseHealthCheck(db))
	}

	srv := server.New(cfg, g, logger,
		server.WithApprovalHub(approvalHub),
		server.WithAuditStore(auditStore),
		server.WithHealthRegistry(healthRegistry),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// buildOnDecision wires the gate's terminal-verdict hook into the
// audit log, classifying each call by which layer produced the block
// (if any) before persisting it.
func buildOnDecision(store audit.Store, logger *slog.Logger) func(ctx context.Context, in intent.PaymentIntent, result adapter.PaymentResult, decisionErr error) {
	return func(ctx context.Context, in intent.PaymentIntent, result adapter.PaymentResult, decisionErr error) {
		entry := classifyDecision(in, result, decisionErr)
		if err := store.Record(ctx, entry); err != nil {
			logger.Warn("failed to record audit entry", "error", err, "intent_id", in.ID)
		}
	}
}

func classifyDecision(in intent.PaymentIntent, result adapter.PaymentResult, decisionErr error) *audit.Entry {
	if decisionErr != nil {
		outcome, layer, reason := audit.OutcomeExecutionFailed, "", decisionErr.Error()
		switch e := decisionErr.(type) {
		case *gate.FirewallBlockedError:
			if e.Layer == "human" {
				outcome = audit.OutcomeHumanRejected
			} else {
				outcome = audit.OutcomeFirewallBlocked
			}
			layer, reason = e.Layer, e.Reason
		case *gate.PolicyViolationError:
			outcome, layer, reason = audit.OutcomePolicyBlocked, "policy", e.Reason
		case *gate.PaymentFailedError:
			outcome, reason = audit.OutcomeExecutionFailed, e.Error()
		}
		return audit.FromVerdict(in, intent.Verdict{Layer: intent.Layer(layer), Reason: reason}, outcome)
	}
	return audit.FromExecution(in, result.TransactionID, result.EscrowID, audit.OutcomeExecuted, "")
}

func escrowTimerHealthCheck(t *escrow.Timer) health.Checker {
	return func(ctx context.Context) health.Status {
		if !t.Running() {
			return health.Status{Name: "escrow_timer", Healthy: false, Detail: "timer loop not running"}
		}
		return health.Status{Name: "escrow_timer", Healthy: true}
	}
}

func walletHealthCheck(w *wallet.Wallet) health.Checker {
	return func(ctx context.Context) health.Status {
		if _, err := w.Balance(ctx); err != nil {
			return health.Status{Name: "wallet_rpc", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "wallet_rpc", Healthy: true}
	}
}

func databaseHealthCheck(db *sql.DB) health.Checker {
	return func(ctx context.Context) health.Status {
		if err := db.PingContext(ctx); err != nil {
			return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "database", Healthy: true}
	}
}

func logFormat(cfg *config.Config) string {
	if cfg.IsProduction() {
		return "json"
	}
	return "text"
}

func zeroToNil(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func zeroToNilInt(i int64) *int64 {
	if i == 0 {
		return nil
	}
	return &i
}

func ledgerOrNil(l *escrowchain.Ledger) escrow.LedgerService {
	if l == nil {
		return nil
	}
	return l
}
