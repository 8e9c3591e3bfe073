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
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"kitchenflow/internal/broker"
	"kitchenflow/internal/config"
	"kitchenflow/internal/database"
	"kitchenflow/internal/handler"
	"kitchenflow/internal/metrics"
	"kitchenflow/internal/mw"
	"kitchenflow/internal/repository"
	"kitchenflow/internal/scheduler"
	"kitchenflow/internal/service"
	"kitchenflow/internal/worker"
)

func main() {
	cfg := config.New()

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid kitchen timezone", "tz", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		slog.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB(context.Background(), db)

	if err := database.InitSchema(db); err != nil {
		slog.Error("failed to init DB schema", "error", err)
		os.Exit(1)
	}

	metrics.Register()
	store := repository.NewPostgres(db)

	// Services
	opts := []service.Option{service.WithLocation(loc)}
	dispatcher := service.NewWebhookDispatcher(store, cfg.WebhookTimeout,
		rate.NewLimiter(rate.Limit(cfg.WebhookRetryRPS), 1), opts...)
	estimator := service.NewEstimationService(store, opts...)
	tracker := service.NewProductionService(store, estimator, dispatcher, opts...)
	forecaster := service.NewForecastService(store, opts...)
	strategies := service.NewStrategies(
		service.SimpleBlend{Engine: estimator},
		service.SegmentedForecast{Forecaster: forecaster},
		service.StageTiming{Stages: store},
	)
	stockSvc := service.NewStockService(store, opts...)
	crmSvc := service.NewCRMService(store, opts...)
	retentionSvc := service.NewRetentionService(store, opts...)

	// Scheduler and workers
	sched := scheduler.New(scheduler.WithLocation(loc))
	if err := registerJobs(sched, stockSvc, crmSvc, retentionSvc); err != nil {
		slog.Error("failed to register jobs", "error", err)
		os.Exit(1)
	}
	retryWorker := worker.NewWebhookRetryWorker(dispatcher, cfg.WebhookRetryInterval)

	deps := map[string]handler.Pinger{"database": db}
	var consumer *worker.OrderEventConsumer
	if cfg.AMQPURL != "" {
		mq, err := broker.Dial(cfg.AMQPURL)
		if err != nil {
			slog.Error("failed to connect to AMQP", "error", err)
			os.Exit(1)
		}
		defer mq.Close()
		if err := mq.DeclareQueue(cfg.AMQPQueue); err != nil {
			slog.Error("failed to declare AMQP queue", "queue", cfg.AMQPQueue, "error", err)
			os.Exit(1)
		}
		consumer = worker.NewOrderEventConsumer(tracker, mq, cfg.AMQPQueue)
		deps["amqp"] = mq
	}

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.AdminTokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/healthz", handler.HealthHandler(deps))
	r.Handle("/metrics", promhttp.Handler())

	// Tenant routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.JWTSecret))

		r.Post("/api/kitchen/estimate", handler.EstimateHandler(estimator))
		r.Post("/api/kitchen/estimate/{strategy}", handler.StrategyEstimateHandler(strategies))
		r.Post("/api/kitchen/orders/{orderID}/start", handler.StartPreparationHandler(tracker))
		r.Post("/api/kitchen/orders/{orderID}/finish", handler.FinishPreparationHandler(tracker))
		r.Get("/api/kitchen/orders/{orderID}/status", handler.RealtimeStatusHandler(tracker))
		r.Get("/api/kitchen/queue", handler.QueueHandler(tracker))
		r.Get("/api/kitchen/forecast/products/{productID}", handler.ProductForecastHandler(forecaster))
		r.Post("/api/kitchen/forecast/order", handler.OrderForecastHandler(forecaster))
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AdminMiddleware(cfg.AdminTokenHash))

		r.Get("/api/admin/scheduler", handler.SchedulerStatusHandler(sched))
		r.Post("/api/admin/scheduler/jobs/{name}/run", handler.RunJobHandler(sched))
		r.Post("/api/admin/webhooks/retry", handler.RetryWebhooksHandler(dispatcher))
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	g.Go(func() error {
		retryWorker.Start(gctx)
		return nil
	})
	if consumer != nil {
		g.Go(func() error { return consumer.Start(gctx) })
	}
	g.Go(func() error {
		slog.Info("starting server", "addr", cfg.RunAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShut()

		sched.Stop()
		if err := srv.Shutdown(ctxShut); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		if err := sched.Wait(ctxShut); err != nil {
			slog.Warn("jobs still running at shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func registerJobs(s *scheduler.Scheduler, stock *service.StockService, crm *service.CRMService, retention *service.RetentionService) error {
	jobs := []scheduler.Job{
		{
			Name:     "stock-low",
			Interval: time.Hour,
			Handler: func(ctx context.Context) error {
				_, err := stock.SweepLowStock(ctx)
				return err
			},
		},
		{
			Name:     "crm-followup",
			Interval: time.Hour,
			Hour:     scheduler.AtHour(10),
			Handler: func(ctx context.Context) error {
				_, err := crm.FollowUp(ctx)
				return err
			},
		},
		{
			Name:     "stock-forecast",
			Interval: 6 * time.Hour,
			Handler: func(ctx context.Context) error {
				_, err := stock.ForecastStock(ctx)
				return err
			},
		},
		{
			Name:     "log-retention",
			Interval: 24 * time.Hour,
			Handler: func(ctx context.Context) error {
				_, err := retention.Purge(ctx)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return err
		}
	}
	return nil
}
