// Package main запускает HTTP-сервер и планировщик сервиса биллинга абонементов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gym-billing/internal/config"
	"github.com/mmeshcher/gym-billing/internal/events"
	"github.com/mmeshcher/gym-billing/internal/handler"
	"github.com/mmeshcher/gym-billing/internal/metrics"
	"github.com/mmeshcher/gym-billing/internal/middleware"
	"github.com/mmeshcher/gym-billing/internal/repository"
	"github.com/mmeshcher/gym-billing/internal/scheduler"
	"github.com/mmeshcher/gym-billing/internal/service"
)

type publisher interface {
	service.Publisher
	Close() error
}

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

	var pub publisher
	if cfg.AMQPURL != "" {
		pub, err = events.NewRabbitPublisher(cfg.AMQPURL, events.DefaultExchange, logger)
		if err != nil {
			sugar.Fatalw("event publisher initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("AMQP_URL is empty, billing events are only logged")
		pub = events.NewLogPublisher(logger)
	}
	defer pub.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	svc := service.NewService(repo, pub, m, logger, service.Options{
		DefaultCurrency:      cfg.DefaultCurrency,
		VATRate:              cfg.VATRate,
		InvoiceDueDays:       cfg.InvoiceDueDays,
		PointsPerUnit:        cfg.LoyaltyPointsPerUnit,
		ReferralRewardPoints: cfg.ReferralRewardPoints,
		JobBatchSize:         cfg.JobBatchSize,
	})
	defer svc.Close()

	sched := scheduler.New(logger, cfg.JobTimeout)
	for _, job := range []scheduler.Job{
		{Name: "expire_due", Spec: cfg.ExpirySchedule, Run: svc.ExpireDue},
		{Name: "unfreeze_elapsed", Spec: cfg.UnfreezeSchedule, Run: svc.UnfreezeElapsed},
		{Name: "mark_overdue", Spec: cfg.OverdueSchedule, Run: svc.MarkOverdueInvoices},
	} {
		if err := sched.Add(job); err != nil {
			sugar.Fatalw("scheduler initialization error", "error", err.Error())
		}
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, auth cookies will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.StaffKey, cfg.WebhookSecret)

	r := h.SetupRouter(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодические задачи: истечение, разморозка, просрочка счетов
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting billing server", "addr", cfg.RunAddress)
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
