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
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vaultic/pool-engine/internal/limits"
	"github.com/vaultic/pool-engine/internal/metrics"
	"github.com/vaultic/pool-engine/internal/service"
	"github.com/vaultic/pool-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	admin := os.Getenv("ADMIN_ACCOUNT")
	if admin == "" {
		admin = "admin"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
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

	// --- Deposit caps ---
	caps := limits.NewCaps(capFromEnv("MAX_POOL_ASSETS"), capFromEnv("MAX_ACCOUNT_SHARES"))

	// --- WebSocket hub ---
	wsHub := service.NewWSHub()
	go wsHub.Run()

	// --- Engine service ---
	svc := service.NewService(service.Config{
		Store: st,
		Admin: admin,
		Caps:  caps,
		Hub:   wsHub,
	})

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
		w.Write([]byte(`{"status":"ok","service":"pool-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time share-price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Pool lifecycle and share accounting.
		r.Get("/pools", svc.ListPools)
		r.Post("/pools", svc.CreatePool)
		r.Get("/pools/{poolID}", svc.GetPool)
		r.Get("/pools/{poolID}/price", svc.GetSharePrice)
		r.Get("/pools/{poolID}/journal", svc.PoolJournal)
		r.Get("/pools/{poolID}/conservation", svc.CheckConservation)
		r.Post("/pools/{poolID}/deposit", svc.Deposit)
		r.Post("/pools/{poolID}/withdraw", svc.Withdraw)
		r.Post("/pools/{poolID}/accrue", svc.Accrue)
		r.Post("/pools/{poolID}/pause", svc.Pause)
		r.Post("/pools/{poolID}/unpause", svc.Unpause)

		// Rewards and yield management.
		r.Post("/pools/{poolID}/rewards/fund", svc.FundRewards)
		r.Post("/pools/{poolID}/rewards/claim", svc.ClaimRewards)
		r.Get("/pools/{poolID}/rewards/{account}", svc.PendingRewards)
		r.Post("/pools/{poolID}/yield/deploy", svc.DeployToYield)
		r.Post("/pools/{poolID}/receivable/settle", svc.SettleReceivable)

		// Positions.
		r.Post("/pools/{poolID}/positions", svc.CreatePosition)
		r.Get("/positions/{positionID}", svc.GetPosition)
		r.Post("/positions/{positionID}/topup", svc.TopUpPosition)
		r.Post("/positions/{positionID}/unlock", svc.UnlockPosition)
		r.Post("/positions/{positionID}/settle", svc.SettlePosition)
		r.Post("/positions/{positionID}/cancel", svc.CancelPosition)
		r.Post("/positions/{positionID}/counterparty", svc.AttachCounterparty)
		r.Post("/positions/{positionID}/transfer", svc.TransferPosition)

		// Account queries.
		r.Get("/accounts/{account}/positions", svc.ListPositions)
		r.Get("/accounts/{account}/journal", svc.AccountJournal)
		r.Get("/accounts/{account}/balance", svc.GetBalance)

		// Administration.
		r.Post("/faucet", svc.Faucet)
		r.Post("/roles/grant", svc.GrantRole)
		r.Post("/roles/revoke", svc.RevokeRole)
		r.Post("/oracle/price", svc.SetOraclePrice)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pool-engine listening", "port", port, "admin", admin)
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

	slog.Info("shutting down pool-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pool-engine stopped")
}

// capFromEnv parses a decimal cap from the environment; unset or invalid
// values leave the cap unlimited.
func capFromEnv(name string) *uint256.Int {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		slog.Warn("ignoring invalid cap", "env", name, "value", raw)
		return nil
	}
	return v
}
