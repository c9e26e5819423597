package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/domainwallet/walletcore/internal/config"
	"github.com/domainwallet/walletcore/internal/dispatch"
	"github.com/domainwallet/walletcore/internal/engine"
	"github.com/domainwallet/walletcore/internal/keystore"
	"github.com/domainwallet/walletcore/internal/logger"
	"github.com/domainwallet/walletcore/internal/pairing"
	"github.com/domainwallet/walletcore/internal/registry"
	"github.com/domainwallet/walletcore/internal/relay"
	"github.com/domainwallet/walletcore/internal/storage"
	"github.com/domainwallet/walletcore/pkg/types"
)

const expireInterval = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database")

	// Initialize key material store based on backend type
	var keys keystore.Store
	switch cfg.KeystoreBackend {
	case "memory":
		keys = keystore.NewMemoryStore()
	case "secure":
		sealer, err := keystore.NewSealer(&keystore.SealerConfig{
			Provider:          cfg.SealerProvider,
			LocalMasterKeyHex: cfg.LocalMasterKey,
			AWSKMSKeyID:       cfg.AWSKMSKeyID,
			AWSKMSRegion:      cfg.AWSKMSRegion,
			VaultAddress:      cfg.VaultAddress,
			VaultToken:        cfg.VaultToken,
			VaultTransitKey:   cfg.VaultTransitKey,
		})
		if err != nil {
			slog.Error("failed to initialize sealer", "error", err)
			os.Exit(1)
		}
		keys = keystore.NewSecureStore(storage.NewKVRepository(store), sealer)
	default:
		slog.Error("unknown keystore backend", "backend", cfg.KeystoreBackend)
		os.Exit(1)
	}
	slog.Info("initialized key material store", "backend", cfg.KeystoreBackend)

	// Session registry over Postgres
	reg := registry.New(storage.NewSessionRepository(store))

	// Relay transport and protocol client
	transport, err := relay.DialWebsocket(ctx, cfg.RelayURL)
	if err != nil {
		slog.Error("failed to connect to relay", "url", cfg.RelayURL, "error", err)
		os.Exit(1)
	}
	defer transport.Close()
	protocol := relay.NewProtocolClient(transport)
	slog.Info("connected to relay", "url", cfg.RelayURL)

	// Pairing state machine
	pairEngine, err := pairing.NewEngine(pairing.Config{
		Protocol:        protocol,
		Registry:        reg,
		SupportedChains: cfg.SupportedChains,
		PairingTimeout:  cfg.PairingTimeout,
	})
	if err != nil {
		slog.Error("failed to initialize pairing engine", "error", err)
		os.Exit(1)
	}

	// Request dispatcher
	correlator, err := dispatch.NewCorrelator(dispatch.Config{
		Transport: transport,
		Registry:  reg,
		Live:      protocol,
		Timeout:   cfg.RequestTimeout,
		Metrics:   dispatch.NewMetrics(nil),
	})
	if err != nil {
		slog.Error("failed to initialize dispatcher", "error", err)
		os.Exit(1)
	}
	go correlator.Run(ctx)

	// Sessions purged during liveness reconciliation also leave the
	// pairing engine's app table.
	reg.OnStale(func(ctx context.Context, session *types.Session) {
		if err := pairEngine.OnSessionDeleted(ctx, session.Topic); err != nil {
			slog.Warn("failed to tear down stale session", "topic", session.Topic, "error", err)
		}
	})

	// Orchestrator
	manager, err := engine.NewManager(engine.Config{
		Keystore:   keys,
		Pairing:    pairEngine,
		Dispatcher: correlator,
		Registry:   reg,
	})
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}

	// Expire stalled pairing attempts and reconcile sessions periodically
	go func() {
		ticker := time.NewTicker(expireInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pairEngine.ExpirePending(ctx)
				if err := manager.ReconcileSessions(ctx); err != nil {
					slog.Warn("session reconciliation failed", "error", err)
				}
			}
		}
	}()

	// Metrics endpoint
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	slog.Info("received shutdown signal", "signal", sig.String())
	cancel()
	slog.Info("walletd stopped")
}
