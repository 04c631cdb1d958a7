// Package main запускает HTTP-сервер платёжного шлюза BinancePay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/binancepay-gateway/internal/binancepay"
	"github.com/mmeshcher/binancepay-gateway/internal/config"
	"github.com/mmeshcher/binancepay-gateway/internal/handler"
	"github.com/mmeshcher/binancepay-gateway/internal/rates"
	"github.com/mmeshcher/binancepay-gateway/internal/repository"
	"github.com/mmeshcher/binancepay-gateway/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	rateCache := rates.NewCache(rates.NewClient(cfg.RatesAddress), rates.DefaultTTL)
	payClient := binancepay.NewClient(cfg.BinancePayURL, cfg.APIKey, cfg.APISecret)

	svc := service.NewService(repo, payClient, rateCache, cfg, logger)
	defer svc.Close()

	h := handler.NewHandler(svc, payClient, logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting binancepay gateway", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
