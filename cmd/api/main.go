package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webphone-platform/internal/audit"
	"webphone-platform/internal/auth"
	"webphone-platform/internal/billing"
	"webphone-platform/internal/calls"
	"webphone-platform/internal/config"
	"webphone-platform/internal/credential"
	"webphone-platform/internal/history"
	"webphone-platform/internal/httpapi"
	"webphone-platform/internal/provider"
	"webphone-platform/internal/rates"
	"webphone-platform/internal/realtime"
	"webphone-platform/internal/reconcile"
	"webphone-platform/internal/router"
	"webphone-platform/pkg/logger"
	"webphone-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	issuer, err := credential.NewIssuer(cfg.Provider)
	if err != nil {
		log.Error("credential issuer init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	resolver, err := rates.NewResolver(nil, cfg.Billing)
	if err != nil {
		log.Error("rate resolver init failed", "err", err)
		os.Exit(1)
	}

	callStore := calls.NewPostgresStore(db)
	billingSvc := billing.NewService(db, billing.NewRedisChargeGuard(rdb))
	historySvc := history.NewService(callStore, history.NewRedisCache(rdb))
	hub := realtime.NewHub(cfg.Realtime, log)

	twilioProvider := provider.NewTwilioProvider(cfg.Provider)

	routerSvc := router.NewService(router.Options{
		Calls:     callStore,
		Balances:  billingSvc,
		Rates:     resolver,
		Provider:  twilioProvider,
		Publisher: hub,
		Directory: router.NewPostgresDirectory(db),
		Slots:     router.NewRedisSlotGuard(rdb),
		App:       cfg.App,
		Billing:   cfg.Billing,
	})

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	reconciler := reconcile.NewService(callStore, billingSvc, historySvc, routerSvc, hub, auditSvc, resolver)

	handlers := &httpapi.Handlers{
		Credentials: issuer,
		Router:      routerSvc,
		Reconciler:  reconciler,
		History:     historySvc,
		Billing:     billingSvc,
		Audit:       auditSvc,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, hub, issuer, auth.RequireAccessToken(authManager), db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	hub.Close()
}
