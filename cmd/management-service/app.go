package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"stepgate/internal/broker"
	"stepgate/internal/config"
	"stepgate/internal/logger"
	"stepgate/internal/management"
	"stepgate/pkg/bootstrap"
	"stepgate/pkg/health"
	"stepgate/pkg/metrics"
	"stepgate/pkg/middleware"
	"stepgate/pkg/ratelimit"
	"stepgate/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	producer       broker.Producer
	health         *health.CheckerRegistry
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	a.initProducer(ctx)

	metrics.RegisterManagementMetrics()

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeout(),
		WriteTimeout: a.config.Server.WriteTimeout(),
	}
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres is required for the rule store")
	}
	a.db = db
	a.health.Register(health.NewPostgreSQLChecker(db))
	return nil
}

// initProducer sets up config event publishing. Without it rule changes
// reach filtering instances on their next periodic reload.
func (a *App) initProducer(ctx context.Context) {
	if a.config.Broker.Type != broker.TypeKafka || a.config.Broker.Kafka.ConfigUpdateTopic == "" {
		return
	}

	producer, err := broker.NewProducer(a.config.Broker, a.logger)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Failed to create config event producer, config events will be disabled", "error", err)
		return
	}
	a.producer = producer
	metrics.RegisterBrokerMetrics()
	a.health.RegisterOptional(health.NewKafkaChecker(a.config.Broker.Kafka.Brokers))
	a.logger.InfowCtx(ctx, "Config event producer initialized", "topic", a.config.Broker.Kafka.ConfigUpdateTopic)
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.UserMiddleware())
	router.Use(middleware.LoggerMiddleware(a.logger))

	if rl := a.config.Management.RateLimit; rl.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		a.logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	validator, err := management.NewValidator(a.config.Filtering.MaxDepth)
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	opts := []management.ServiceOption{
		management.WithAudit(management.NewAuditLogger(a.db)),
		management.WithLogger(a.logger),
	}
	if a.producer != nil {
		opts = append(opts, management.WithConfigEvents(
			management.NewConfigEventProducer(a.producer, a.config.Broker.Kafka.ConfigUpdateTopic),
		))
	}

	svc := management.NewService(management.NewRepository(a.db), validator, opts...)
	management.NewHandler(svc, a.logger).RegisterRoutes(router)

	router.GET("/health", gin.WrapF(a.health.Handler()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, a.db, nil)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
