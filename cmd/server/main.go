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

	"github.com/honeynil/CheckoutService/internal/app"
	"github.com/honeynil/CheckoutService/internal/config"
	"github.com/honeynil/CheckoutService/internal/observability"
)

func main() {
	// Загружаем конфиг (.env + окружение)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем логи, метрики, трейсы
	shutdownTracing, metricsHandler := observability.Setup(ctx, observability.Options{
		ServiceName:  cfg.Tracing.ServiceName,
		LogLevel:     cfg.Log.Level,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	})
	defer shutdownTracing(context.Background())

	// Подключаемся к Postgres, Redis, Kafka и собираем сервисы
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to init application", "error", err)
		os.Exit(1)
	}

	// Kafka-консьюмер доставляет события о выдаче доступа
	consumer := application.FulfillmentConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Consume(ctx)
	}()

	// Запускаем сервер
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      application.Router(metricsHandler),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	if err := consumer.Close(); err != nil {
		slog.Error("failed to close kafka consumer", "error", err)
	}
	select {
	case <-consumerDone:
	case <-time.After(cfg.HTTP.ShutdownTimeout):
		slog.Warn("kafka consumer did not stop in time")
	}

	application.Close(shutdownCtx)
	slog.Info("server stopped")
}
