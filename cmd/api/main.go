package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"travelmatch/catalog"
	"travelmatch/config"
	"travelmatch/db"
	"travelmatch/dispute"
	"travelmatch/escrow"
	"travelmatch/httpapi"
	"travelmatch/identity"
	"travelmatch/logger"
	"travelmatch/match"
	"travelmatch/matching"
	"travelmatch/notify"
	"travelmatch/payments"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName, cfg.LoggerLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	databaseURL := cfg.DatabaseURL()
	if err := db.Migrate("file://migrations", databaseURL, log); err != nil {
		log.Fatal("apply migrations", zap.Error(err))
	}

	pool, err := db.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	catalogStore := catalog.NewPGStore(pool)
	escrowStore := escrow.NewPGStore(pool)
	disputeStore := dispute.NewPGStore(pool)
	identityStore := identity.NewPGStore(pool)

	notifier := notify.NewNotifier(&notify.LogGateway{Log: log}, log)
	defer notifier.Close()

	processor := payments.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey)

	identitySvc := identity.NewService(identityStore, cfg.JWTSecret)
	ledger := escrow.NewLedger(escrowStore, processor, notifier, log).
		WithFeeRate(cfg.PlatformFeeRate)
	engine := matching.NewEngine(catalogStore)
	coordinator := match.NewCoordinator(catalogStore, ledger, notifier, log).
		WithHoldTimeout(cfg.HoldTimeout)
	resolver := dispute.NewResolver(disputeStore, ledger, notifier, log)

	server := httpapi.NewServer(identitySvc, catalogStore, engine, coordinator, ledger, resolver, log)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.Int("port", cfg.AppPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
}
