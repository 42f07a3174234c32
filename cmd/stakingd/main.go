package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rwastaking/config"
	"rwastaking/core/events"
	"rwastaking/core/state"
	"rwastaking/gateway/idempotency"
	"rwastaking/gateway/middleware"
	"rwastaking/gateway/routes"
	"rwastaking/gateway/stream"
	"rwastaking/integrations/webhooks"
	"rwastaking/native/bank"
	"rwastaking/native/common"
	"rwastaking/native/nft"
	"rwastaking/native/staking"
	"rwastaking/observability/logging"
	telemetry "rwastaking/observability/otel"
	"rwastaking/services/receipts"
	"rwastaking/storage"
)

const (
	serviceName    = "stakingd"
	streamBacklog  = 512
	idempotencyTTL = 24 * time.Hour
	pruneInterval  = time.Hour
)

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./stakingd.toml", "path to stakingd configuration")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "stakingd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.ResolvePath(cfg.Logging.File),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("stakingd: telemetry shutdown", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.ResolvePath("ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	store, err := state.NewStakingStore(db)
	if err != nil {
		return fmt.Errorf("open staking store: %w", err)
	}

	admins, err := cfg.AdminAddresses()
	if err != nil {
		return err
	}
	adminSet := common.NewAdminSet(admins...)
	if adminSet.Len() == 0 {
		logger.Warn("stakingd: no admins configured; rate and pool changes are disabled")
	}

	pauses := common.NewPauses()
	if cfg.Paused {
		pauses.Set(staking.ModuleName, true)
		logger.Warn("stakingd: starting with staking paused")
	}

	journalDB, err := receipts.Open(cfg.Receipts.Driver, receiptsDSN(cfg))
	if err != nil {
		return err
	}
	journal := receipts.NewJournal(journalDB, logger)

	hub := stream.NewHub(streamBacklog, logger)
	emitters := events.Multi{journal, hub}

	if endpoint := strings.TrimSpace(cfg.Webhooks.Endpoint); endpoint != "" {
		opts := []webhooks.Option{webhooks.WithLogger(logger)}
		if len(cfg.Webhooks.Topics) > 0 {
			opts = append(opts, webhooks.WithTopics(cfg.Webhooks.Topics...))
		}
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(cfg.Webhooks.Secret), opts...)
		if err != nil {
			return fmt.Errorf("configure webhooks: %w", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}

	registry := nft.NewRegistry(db)
	registry.SetEmitter(hub)
	tokens := bank.NewLedger(db, cfg.RewardDenom)
	tokens.SetEmitter(hub)

	engine := staking.NewEngine()
	engine.SetState(store)
	engine.SetRegistry(registry)
	engine.SetTokenTransfer(tokens)
	engine.SetAuthorizer(adminSet)
	engine.SetPauses(pauses)
	engine.SetLogger(logger)
	engine.SetEmitter(emitters)
	poolAccount, err := cfg.PoolAddress()
	if err != nil {
		return err
	}
	if !poolAccount.IsZero() {
		engine.SetPoolAccount(poolAccount)
	}

	// HTTP metrics live on their own registry; engine metrics use the default one.
	reg := prometheus.NewRegistry()
	idem, err := idempotency.NewStore(cfg.ResolvePath("idempotency.db"), idempotencyTTL)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer idem.Close()
	go pruneIdempotency(ctx, idem, logger)

	handler := routes.New(routes.Config{
		Engine:     engine,
		Journal:    journal,
		Registry:   registry,
		Tokens:     tokens,
		Pauses:     pauses,
		Authorizer: adminSet,
		Stream:     hub,
		Metrics:    promhttp.HandlerFor(prometheus.Gatherers{reg, prometheus.DefaultGatherer}, promhttp.HandlerOpts{}),
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RatePerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:         cfg.RateLimit.Burst,
		}),
		Idempotency:   idempotency.NewGuard(idem, logger),
		Observability: middleware.NewObservability(reg, logger, cfg.Environment != "prod"),
		CORS:          middleware.CORSConfig{AllowedOrigins: []string{"*"}},
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadTimeout(),
		ReadTimeout:       cfg.ReadTimeout(),
		WriteTimeout:      cfg.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stakingd: listening", "address", cfg.ListenAddress, "pool", engine.PoolAccount().String(), "denom", tokens.Denom())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("stakingd: shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// receiptsDSN anchors sqlite journals under the data directory.
func receiptsDSN(cfg *config.Config) string {
	if strings.EqualFold(cfg.Receipts.Driver, "postgres") {
		return cfg.Receipts.DSN
	}
	return cfg.ResolvePath(cfg.Receipts.DSN)
}

func pruneIdempotency(ctx context.Context, store *idempotency.Store, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Prune()
			if err != nil {
				logger.Warn("stakingd: prune idempotency keys", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("stakingd: pruned idempotency keys", "removed", removed)
			}
		}
	}
}
