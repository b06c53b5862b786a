package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"key-chat/relay-gateway/internal/api"
	"key-chat/relay-gateway/internal/config"
	"key-chat/relay-gateway/internal/gateway"
	"key-chat/relay-gateway/internal/identity"
	"key-chat/relay-gateway/internal/ledger"
	"key-chat/relay-gateway/internal/metrics"
	"key-chat/relay-gateway/internal/platform/privacylog"
	"key-chat/relay-gateway/internal/platform/ratelimiter"
	"key-chat/relay-gateway/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for local store data (overrides config)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("relay-gateway version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	log := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	slog.SetDefault(log)

	cfg := config.LoadFromPath(*configPath)
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dataDir != "" {
		cfg.StorePath = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relay-gateway failed", "error", err)
		os.Exit(1)
	}
	log.Info("relay-gateway stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	feePayer, err := loadFeePayer(cfg)
	if err != nil {
		return fmt.Errorf("load fee payer: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var ldg ledger.Ledger
	if cfg.LedgerRPCURL != "" {
		ldg = ledger.NewClient(cfg.LedgerRPCURL, cfg.LedgerTimeout)
	} else {
		// no RPC endpoint configured: local development against an
		// in-process ledger
		log.Warn("no ledger RPC URL configured, using in-memory ledger")
		mem := ledger.NewMemoryLedger()
		mem.Fund(feePayer.Address(), 100_000_000)
		ldg = mem
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)
	verifier := gateway.NewVerifier(cfg.AuthFreshnessWindow)

	srv := api.NewServer(cfg, api.Deps{
		Verifier:        verifier,
		Quota:           ratelimiter.NewWindow(cfg.RateLimitPoints, cfg.RateLimitDuration),
		Spending:        gateway.NewSpendingGuard(st, cfg.DailyCapLamports, cfg.EstimatePerTx, cfg.SpendingFailOpen, log),
		Relay:           newRelay(cfg, st, ldg, feePayer, m, log),
		Inbox:           gateway.NewInboxReader(ldg, st, m, log),
		Blocklist:       gateway.NewBlocklist(st),
		Usernames:       gateway.NewUsernames(st, verifier),
		Avatars:         gateway.NewAvatars(st),
		Groups:          gateway.NewGroups(st, verifier),
		Ledger:          ldg,
		Store:           st,
		FeePayerAddress: feePayer.Address(),
		Metrics:         m,
		Registry:        registry,
		Log:             log,
	})

	log.Info("relay-gateway starting",
		"network", cfg.Network,
		"store", cfg.StoreBackend,
		"fee_payer", feePayer.Address(),
	)
	return srv.Run(ctx)
}

func newRelay(cfg config.Config, st store.Store, ldg ledger.Ledger, feePayer *identity.Identity, m *metrics.Metrics, log *slog.Logger) *gateway.Relay {
	relay := gateway.NewRelay(st, ldg, feePayer, m, log)
	relay.InlineLimit = cfg.InlineLimitBytes
	relay.MaxPayload = cfg.MaxPayloadBytes
	relay.BlobTTL = cfg.BlobTTL
	relay.TransferLamports = cfg.TransferLamports
	return relay
}

func loadFeePayer(cfg config.Config) (*identity.Identity, error) {
	if cfg.FeePayerSecret != "" {
		return identity.FromSecretBase58(cfg.FeePayerSecret)
	}
	if cfg.FeePayerKeyFile != "" {
		raw, err := os.ReadFile(cfg.FeePayerKeyFile)
		if err != nil {
			return nil, err
		}
		return identity.FromSecretBase58(string(trimNewline(raw)))
	}
	return nil, fmt.Errorf("no fee payer key: set KEYRELAY_FEE_PAYER_SECRET or feePayer.keyFile")
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "badger":
		return store.OpenBadgerStore(cfg.StorePath)
	case "", "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
