package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rwastaking/gateway/idempotency"
	"rwastaking/gateway/middleware"
	"rwastaking/native/bank"
	"rwastaking/native/common"
	"rwastaking/native/nft"
	"rwastaking/native/staking"
	"rwastaking/services/receipts"
)

type Config struct {
	Engine        *staking.Engine
	Journal       *receipts.Journal
	Registry      *nft.Registry
	Tokens        *bank.Ledger
	Pauses        *common.Pauses
	Authorizer    staking.Authorizer
	Stream        http.Handler
	Metrics       http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Idempotency   *idempotency.Guard
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// New assembles the staking HTTP API.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		engine:   cfg.Engine,
		journal:  cfg.Journal,
		registry: cfg.Registry,
		tokens:   cfg.Tokens,
		pauses:   cfg.Pauses,
		auth:     cfg.Authorizer,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	// The stream sits outside the instrumented group so the upgrade reaches the raw writer.
	if cfg.Stream != nil {
		r.Handle("/v1/stream", cfg.Stream)
	}

	r.Group(func(api chi.Router) {
		if cfg.Observability != nil {
			api.Use(cfg.Observability.Middleware)
		}

		api.Group(func(pub chi.Router) {
			if cfg.RateLimiter != nil {
				pub.Use(cfg.RateLimiter.Middleware)
			}
			pub.Get("/v1/positions/{asset}", h.getPosition)
			pub.Get("/v1/positions/{asset}/pending", h.getPending)
			pub.Get("/v1/owners/{owner}/positions", h.listOwnerPositions)
			pub.Get("/v1/rates", h.listRates)
			pub.Get("/v1/pool", h.getPool)
			pub.Get("/v1/totals", h.getTotals)
			pub.Get("/v1/contract", h.getContract)
			if cfg.Registry != nil {
				pub.Get("/v1/assets/{asset}", h.getAsset)
			}
			if cfg.Tokens != nil {
				pub.Get("/v1/accounts/{account}/balance", h.getBalance)
			}
		})

		api.Group(func(priv chi.Router) {
			if cfg.Authenticator != nil {
				priv.Use(cfg.Authenticator.Middleware)
			} else {
				priv.Use(denyAll)
			}
			if cfg.RateLimiter != nil {
				priv.Use(cfg.RateLimiter.Middleware)
			}
			if cfg.Idempotency != nil {
				priv.Use(cfg.Idempotency.Middleware)
			}
			priv.Post("/v1/positions/{asset}/stake", h.stake)
			priv.Post("/v1/positions/{asset}/unstake", h.unstake)
			priv.Post("/v1/positions/{asset}/claim", h.claim)
			priv.Post("/v1/positions/{asset}/checkpoint", h.checkpoint)
			priv.Post("/v1/admin/rates", h.setRate)
			priv.Post("/v1/admin/pool/fund", h.fundPool)
			if cfg.Registry != nil {
				priv.Post("/v1/admin/assets", h.mintAsset)
			}
			if cfg.Tokens != nil {
				priv.Post("/v1/admin/tokens/mint", h.mintTokens)
			}
			if cfg.Pauses != nil {
				priv.Post("/v1/admin/pause", h.setPaused)
			}
			if cfg.Journal != nil {
				priv.Get("/v1/receipts", h.listReceipts)
				priv.Get("/v1/receipts/export", h.exportReceipts)
			}
		})
	})

	return r
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication not configured")
	})
}
