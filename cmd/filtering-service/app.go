package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"stepgate/internal/config"
	"stepgate/internal/constants"
	"stepgate/internal/filtering"
	"stepgate/internal/logger"
	"stepgate/internal/resolver"
	"stepgate/pkg/bootstrap"
	"stepgate/pkg/health"
	"stepgate/pkg/logging"
	"stepgate/pkg/metrics"
	"stepgate/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	service        *filtering.Service
	health         *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	a.health.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterFilteringMetrics()
	metrics.RegisterResolverMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

// initDatabases connects Postgres, which holds the rules, and the optional
// Redis cache and Mongo subscriber store used by the resolver.
func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres is required for the rule store")
	}
	a.db = db
	a.health.Register(health.NewPostgreSQLChecker(db))

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, resolver cache disabled", "error", err)
	} else if redisClient != nil {
		a.redisClient = redisClient
		a.health.RegisterOptional(health.NewRedisChecker(redisClient))
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB unavailable, subscriber lookups disabled", "error", err)
	} else if mongoClient != nil {
		a.mongoClient = mongoClient
		a.health.RegisterOptional(health.NewMongoDBChecker(mongoClient))
	}

	return nil
}

func (a *App) initService(ctx context.Context) error {
	deps := resolver.Dependencies{Redis: a.redisClient}
	if a.mongoClient != nil {
		deps.MongoDB = a.mongoClient.Database(a.dbConnector.MongoDatabaseName())
	}
	contextResolver := resolver.NewFromConfig(a.Config, deps, a.Logger)

	repo := filtering.NewRepository(a.db)
	svc, err := filtering.NewService(repo, contextResolver, a.Config.Filtering, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create filtering service: %w", err)
	}

	if err := svc.LoadRules(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load initial rules",
			"error", err,
		)
	}

	a.service = svc
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()
	mux.Handle("/health", a.health.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      mux,
		ReadTimeout:  a.Config.Server.ReadTimeout(),
		WriteTimeout: a.Config.Server.WriteTimeout(),
	}
}

// configBrokerConfig gives each instance its own consumer group on the config
// topic so every replica reloads on a rule change.
func (a *App) configBrokerConfig() config.BrokerConfig {
	cfg := a.Config.Broker
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "local"
	}
	cfg.Kafka.GroupID = fmt.Sprintf("%s-config-%s", cfg.Kafka.GroupID, instance)
	return cfg
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	configTopic := a.Config.Broker.Kafka.ConfigUpdateTopic
	if configTopic != "" {
		configConsumer, err := a.NewConsumer("config", a.configBrokerConfig(), serviceName)
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event consumer, event-driven reload disabled",
				"error", err,
			)
		} else {
			configEventHandler := filtering.NewHandler(a.service, a.Logger)

			g.Go(func() error {
				configCtx := logging.WithServiceName(gCtx, serviceName)
				a.Logger.InfowCtx(configCtx, "Starting config update event consumer",
					"topic", configTopic,
				)
				return configConsumer.Consume(gCtx, configTopic, configEventHandler.HandleConfigUpdateEvent)
			})
		}
	}

	g.Go(func() error {
		return a.service.StartReloader(gCtx)
	})

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}
	outputTopic := a.Config.Broker.Kafka.OutputTopic
	if outputTopic == "" {
		outputTopic = constants.DefaultOutputTopic
	}

	handler := filtering.NewMessageHandler(a.service, a.Producer, outputTopic, a.Logger)
	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Consuming trigger events",
			"input_topic", inputTopic,
			"output_topic", outputTopic,
			"rules", a.service.RuleCount(),
		)
		return a.Consumer.Consume(gCtx, inputTopic, handler)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(logging.WithServiceName(ctx, serviceName), "Shutting down filtering service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
