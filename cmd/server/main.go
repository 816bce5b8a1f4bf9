package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consenthub/config"
	"consenthub/db"
	"consenthub/handlers"
	"consenthub/logger"
	"consenthub/middleware"
	"consenthub/models"
	"consenthub/services"
	"consenthub/services/jobs"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()
	zap.ReplaceGlobals(log.Desugar())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Initialize(cfg); err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(&models.DSARRequest{}, &models.AuditLog{}, &models.Notification{}, &models.ConsentLog{}); err != nil {
		log.Fatalw("failed to run migrations", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	bus := newEventBus(ctx, cfg, log)
	mailer := services.NewEmailSender(cfg)

	dsar := services.NewDSARService(db.DB, bus, metrics)
	dsar.Mailer = mailer
	dsar.DefaultJurisdiction = cfg.DefaultJurisdiction

	notifications := services.NewNotificationService(db.DB, mailer, metrics, cfg.AppURL)
	bus.Subscribe(notifications.HandleEvent)
	consents := services.NewConsentService(db.DB)
	bus.Subscribe(consents.HandleEvent)

	monitor := services.NewSecurityMonitor(db.DB, mailer, cfg.SecurityAlertEmail)

	storage := services.NewStorage(ctx, cfg)
	responses := services.NewResponseService(dsar, storage, services.NewChromePDFRenderer(cfg.ChromePath))

	scheduler, err := jobs.StartScheduler(jobs.NewOverdueSweeper(dsar), cfg.OverdueSweepSpec)
	if err != nil {
		log.Fatalw("failed to start overdue sweep", "spec", cfg.OverdueSweepSpec, "error", err)
	}
	if _, err := scheduler.AddFunc("@hourly", monitor.Prune); err != nil {
		log.Fatalw("failed to schedule security monitor pruning", "error", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler
	e.Server.ReadTimeout = cfg.HTTPTimeout
	e.Server.WriteTimeout = cfg.HTTPTimeout

	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			log.Infow("request", fields...)
			return nil
		},
	}))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echomiddleware.BodyLimit("1M"))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(e, &handlers.Handlers{
		DSAR:          handlers.NewDSARHandler(dsar, responses, storage, bus, monitor),
		Notifications: handlers.NewNotificationHandler(notifications),
		Consents:      handlers.NewConsentHandler(consents),
		Security:      monitor,
		DB:            db.DB,
		Limits:        middleware.DefaultRateLimiters(),
		Ping:          db.Ping,
	}, cfg.JWTSecret)

	go func() {
		log.Infow("server starting", "port", cfg.ServerPort, "environment", cfg.Environment)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
	}
}

// newEventBus fans events out over Redis when REDIS_URL is set so every instance
// can serve them from /events. Otherwise events stay in process.
func newEventBus(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) services.EventBus {
	local := services.NewMemoryBus(services.DefaultEventBufferSize)
	if cfg.RedisURL == "" {
		return local
	}

	client, err := services.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Warnw("redis unavailable, using in-process event bus", "error", err)
		return local
	}

	bus := services.NewRedisBus(client, local, services.DefaultEventChannel)
	go func() {
		defer client.Close()
		if err := bus.Listen(ctx); err != nil {
			log.Errorw("redis event listener stopped", "error", err)
		}
	}()
	log.Infow("event bus ready", "provider", "redis", "channel", services.DefaultEventChannel)
	return bus
}
