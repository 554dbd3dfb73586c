// Command mcp exposes the gate as an MCP stdio server so an LLM agent
// can call propose_payment/check_payment directly as tools, without
// going through the admin HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	_ "github.com/lib/pq"

	acpadapter "github.com/agentpay/firewall/internal/adapter/acp"
	ap2adapter "github.com/agentpay/firewall/internal/adapter/ap2"
	escrowadapter "github.com/agentpay/firewall/internal/adapter/escrow"
	x402adapter "github.com/agentpay/firewall/internal/adapter/x402"
	"github.com/agentpay/firewall/internal/config"
	"github.com/agentpay/firewall/internal/escrow"
	"github.com/agentpay/firewall/internal/escrowchain"
	"github.com/agentpay/firewall/internal/firewall"
	"github.com/agentpay/firewall/internal/gate"
	"github.com/agentpay/firewall/internal/intent"
	"github.com/agentpay/firewall/internal/logging"
	"github.com/agentpay/firewall/internal/mcpserver"
	"github.com/agentpay/firewall/internal/wallet"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	buyerWallet, err := wallet.New(wallet.Config{
		RPCURL:       cfg.RPCURL,
		PrivateKey:   cfg.PrivateKey,
		ChainID:      cfg.ChainID,
		USDCContract: cfg.USDCContract,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init wallet: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = buyerWallet.Close() }()

	// When DATABASE_URL is set, the stdio process keeps escrow records in
	// the same Postgres store as the admin API. Policy spend counters
	// always stay in memory per process, and this process keeps no audit
	// trail. Without DATABASE_URL, escrow records are in memory too.
	var escrowStore escrow.Store = escrow.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			os.Exit(1)
		}
		escrowStore = escrow.NewPostgresStore(db)
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
			fmt.Fprintf(os.Stderr, "failed to init custodian wallet: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = custodianWallet.Close() }()
		ledger = escrowchain.New(buyerWallet, custodianWallet)
	}

	escrowService := escrow.NewService(escrowStore, ledgerOrNil(ledger))

	timerCtx, stopTimer := context.WithCancel(context.Background())
	defer stopTimer()
	escrowTimer := escrow.NewTimer(escrowService, escrowStore, logger)
	go escrowTimer.Start(timerCtx)
	defer escrowTimer.Stop()

	// No human approval console is attached to the stdio process:
	// amounts that cross RequireHumanApprovalAbove are simply blocked
	// here, the same as any other unconfigured-callback case. Approve
	// them through the admin API instead.
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
		Logger: logger,
	})

	g.RegisterAdapter(x402adapter.New(buyerWallet))
	g.RegisterAdapter(escrowadapter.New(escrowService, buyerWallet.Address()))
	if cfg.StripeAPIKey != "" {
		g.RegisterAdapter(acpadapter.New(cfg.StripeAPIKey))
	}
	g.RegisterAdapter(ap2adapter.New(cfg.MCPDefaultEndpoint))

	if err := server.ServeStdio(mcpserver.NewMCPServer(g)); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
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
