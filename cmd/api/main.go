package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"carvault/auth"
	"carvault/compliance"
	"carvault/config"
	"carvault/db"
	"carvault/document"
	"carvault/handover"
	"carvault/httpapi"
	"carvault/notify"
	"carvault/payment"
	"carvault/repair"
	"carvault/txn"
)

func main() {
	if err := run(); err != nil {
		slog.Error("exit", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	rail := &payment.LogRail{Log: logger}
	screener := compliance.NewListScreener(cfg.Compliance.DeniedParties)

	authService := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)
	txnService := txn.NewService(pool, nil, rail)
	txnReader := txn.NewReader(pool)
	documentService := document.NewService(pool, screener)
	repairService := repair.NewService(pool)
	handoverService := handover.NewService(pool, screener, rail, cfg.Custody.NegotiationWindow)

	router := httpapi.NewRouter(
		authService,
		httpapi.NewAuthHandler(authService),
		httpapi.NewTxnHandler(txnService, txnReader, cfg.Custody.CommissionRateBP),
		httpapi.NewDocumentHandler(documentService),
		httpapi.NewRepairHandler(repairService),
		httpapi.NewHandoverHandler(handoverService, txnReader),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	relay := &notify.Relay{
		Pool:     pool,
		Notifier: &notify.SlogNotifier{Log: logger},
		Log:      logger,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		err := relay.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Negotiation windows expire on a timer, not on request traffic.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Custody.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				n, err := handoverService.ExpireNegotiations(groupCtx)
				if err != nil {
					logger.Error("negotiation sweep failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("negotiations expired", "count", n)
				}
			}
		}
	})

	return group.Wait()
}
