package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/parlaypool/settlement-engine/internal/asset"
	"github.com/parlaypool/settlement-engine/internal/config"
	"github.com/parlaypool/settlement-engine/internal/engine"
	"github.com/parlaypool/settlement-engine/internal/metrics"
	"github.com/parlaypool/settlement-engine/internal/model"
	"github.com/parlaypool/settlement-engine/internal/registry"
	"github.com/parlaypool/settlement-engine/internal/rewards"
	"github.com/parlaypool/settlement-engine/internal/store"
	"github.com/parlaypool/settlement-engine/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Collaborators ---
	// The currency ledger, outcome registry, and oracle are in-memory
	// development stand-ins; production swaps in chain and feed adapters.
	currency := asset.NewMemoryAsset()
	reg := registry.NewMemoryRegistry()
	oracle := registry.NewMemoryOracle()
	slog.Warn("using in-memory currency, registry, and oracle")

	// --- WebSocket hub ---
	wsHub := engine.NewWSHub()
	go wsHub.Run()

	// --- Event fan-out: journal, WebSocket, metrics ---
	metricsSink := metrics.Sink()
	sink := model.SinkFunc(func(ev model.Event) {
		if err := st.AppendEvent(context.Background(), &ev); err != nil {
			slog.Error("event journal append failed", "type", ev.Type, "err", err)
		}
		wsHub.Emit(ev)
		metricsSink.Emit(ev)
	})

	// --- Vault + reward ledger ---
	yield := vault.NewMemoryYieldAdapter(currency, "yield", cfg.Vault.Account)
	pool, err := vault.New(currency, cfg.Vault.Account, cfg.Vault.SafetyAccount, nil, yield, vault.Params{
		UtilizationCapBps: cfg.Vault.UtilizationCapBps,
		PerTicketCapBps:   cfg.Vault.PerTicketCapBps,
		BufferBps:         cfg.Vault.BufferBps,
		MinDeposit:        cfg.Vault.MinDeposit,
		LockerShareBps:    cfg.Vault.LockerShareBps,
		SafetyShareBps:    cfg.Vault.SafetyShareBps,
	}, sink)
	if err != nil {
		slog.Error("vault setup failed", "err", err)
		os.Exit(1)
	}
	ledger, err := rewards.New(pool, currency, cfg.Rewards.Account, st,
		cfg.Rewards.BasePenaltyBps, rewards.DefaultTiers(), sink)
	if err != nil {
		slog.Error("reward ledger setup failed", "err", err)
		os.Exit(1)
	}
	if err := pool.SetFeeSink(ledger); err != nil {
		slog.Error("fee sink wiring failed", "err", err)
		os.Exit(1)
	}

	// --- Wager engine ---
	gateway, err := pool.Gateway()
	if err != nil {
		slog.Error("gateway claim failed", "err", err)
		os.Exit(1)
	}
	svc, err := engine.NewService(st, reg, oracle, pool, gateway, engine.Params{
		BaseEdgeBps:       cfg.Engine.BaseEdgeBps,
		PerLegEdgeBps:     cfg.Engine.PerLegEdgeBps,
		MinStake:          cfg.Engine.MinStake,
		CashoutPenaltyBps: cfg.Engine.CashoutPenaltyBps,
		BootstrapUntil:    time.Now().Add(cfg.Engine.BootstrapWindow),
		DisputeWindow:     cfg.Engine.DisputeWindow,
	}, sink)
	if err != nil {
		slog.Error("engine setup failed", "err", err)
		os.Exit(1)
	}
	api := engine.NewAPI(svc, pool, ledger, st)
	admin := engine.NewDevAdmin(reg, oracle, currency)

	// Vault gauges refresh on a slow tick rather than per event.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := pool.Snapshot()
			metrics.VaultReserved.Set(float64(stats.Reserved))
			metrics.VaultTotalAssets.Set(float64(stats.TotalAssets))
			metrics.LockedWeightedShares.Set(float64(ledger.Snapshot().TotalWeighted))
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for the real-time event stream.
		r.Get("/ws", wsHub.HandleWS)

		api.Routes(r)
		admin.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}
