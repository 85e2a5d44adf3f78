package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"eventcore/internal/broker"
	"eventcore/internal/catalog"
	"eventcore/internal/config"
	"eventcore/internal/constants"
	"eventcore/internal/deadletter"
	"eventcore/internal/delayqueue"
	"eventcore/internal/events"
	"eventcore/internal/expiration"
	"eventcore/internal/logger"
	"eventcore/internal/opsapi"
	"eventcore/internal/orders"
	"eventcore/pkg/bootstrap"
	"eventcore/pkg/circuitbreaker"
	"eventcore/pkg/health"
	"eventcore/pkg/logging"
	"eventcore/pkg/metrics"
	"eventcore/pkg/migrations"
	"eventcore/pkg/tracing"
)

const serviceName = constants.ServiceExpiration

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	mongoClient    *mongo.Client
	db             *sql.DB
	deadLetters    *deadletter.PostgresStore
	queue          *delayqueue.Queue
	worker         *delayqueue.Worker
	saga           *expiration.Saga
	onCreated      *broker.Listener[events.OrderCreated]
	onCancelled    *broker.Listener[events.OrderCancelled]
	cardCopies     *catalog.MongoStore
	onModelCreated *broker.Listener[events.ModelCreated]
	onModelUpdated *broker.Listener[events.ModelUpdated]
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
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(ctx, serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.Conn.EnsureTopics(ctx,
		events.OrderCreatedSubject,
		events.OrderCancelledSubject,
		events.OrderExpiredSubject,
		events.ModelCreatedSubject,
		events.ModelUpdatedSubject,
	); err != nil {
		return fmt.Errorf("failed to ensure topics: %w", err)
	}

	tp, err := tracing.Init(ctx, a.Config.Tracing, serviceName, a.Conn.Config())
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterDelayQueueMetrics()
	metrics.RegisterSagaMetrics()
	metrics.RegisterCatalogMetrics()
	metrics.RegisterOpsMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	listenerOpts := a.listenerOptions()
	a.initSaga(listenerOpts)
	a.initCatalog(listenerOpts)
	a.initHTTPServer(ctx)

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	if err := migrations.EnsureOrderIndexes(ctx, a.dbConnector.MongoDatabase(mongoClient)); err != nil {
		return err
	}

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		a.db = db
		if a.Config.Database.RunMigrations {
			if err := migrations.MigratePostgres(db); err != nil {
				return err
			}
		}
		a.deadLetters = deadletter.NewPostgresStore(db)
	}

	return nil
}

func (a *App) listenerOptions() []broker.ListenerOption {
	if a.deadLetters == nil {
		return nil
	}
	return []broker.ListenerOption{broker.WithDeadLetterSink(a.deadLetters)}
}

func (a *App) initSaga(listenerOpts []broker.ListenerOption) {
	var queueOpts []delayqueue.Option
	if a.Config.CircuitBreaker.Enabled {
		breaker := circuitbreaker.NewWrapper(delayqueue.BreakerConfig("delay-queue", a.Config.CircuitBreaker))
		queueOpts = append(queueOpts, delayqueue.WithCircuitBreaker(breaker))
	}

	store := delayqueue.NewRedisStore(a.redis, a.Config.DelayQueue.Name)
	a.queue = delayqueue.New(store, a.Config.DelayQueue, a.Logger, queueOpts...)

	var workerOpts []delayqueue.WorkerOption
	if a.deadLetters != nil {
		workerOpts = append(workerOpts, delayqueue.WithDeadLetterSink(a.deadLetters))
	}
	a.worker = delayqueue.NewWorker(a.queue, a.Logger, workerOpts...)

	orderStore := orders.NewMongoStore(a.dbConnector.MongoDatabase(a.mongoClient), serviceName)
	publisher := broker.NewPublisher[events.OrderExpired](a.Conn, a.Logger)
	a.saga = expiration.New(orderStore, a.queue, publisher, a.Logger)

	kafkaCfg := a.Conn.Config()
	a.onCreated = broker.NewListener[events.OrderCreated](a.Conn,
		broker.NewSubscription(events.OrderCreatedSubject, kafkaCfg),
		a.saga.HandleOrderCreated, a.Logger, listenerOpts...)
	a.onCancelled = broker.NewListener[events.OrderCancelled](a.Conn,
		broker.NewSubscription(events.OrderCancelledSubject, kafkaCfg),
		a.saga.HandleOrderCancelled, a.Logger, listenerOpts...)
}

// initCatalog keeps the order side copy of the cards current.
func (a *App) initCatalog(listenerOpts []broker.ListenerOption) {
	a.cardCopies = catalog.NewMongoStore(a.dbConnector.MongoDatabase(a.mongoClient), serviceName)
	svc := catalog.NewService(a.cardCopies, a.Logger)

	kafkaCfg := a.Conn.Config()
	a.onModelCreated = broker.NewListener[events.ModelCreated](a.Conn,
		broker.NewSubscription(events.ModelCreatedSubject, kafkaCfg),
		svc.HandleModelCreated, a.Logger, listenerOpts...)
	a.onModelUpdated = broker.NewListener[events.ModelUpdated](a.Conn,
		broker.NewSubscription(events.ModelUpdatedSubject, kafkaCfg),
		svc.HandleModelUpdated, a.Logger, listenerOpts...)
}

func (a *App) initHTTPServer(ctx context.Context) {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewRedisChecker(a.redis))
	registry.Register(health.NewMongoDBChecker(a.mongoClient))
	registry.Register(health.NewCheckFunc("kafka", a.Conn.Ping))
	if a.db != nil {
		registry.Register(health.NewPostgreSQLChecker(a.db))
	}

	opts := opsapi.Options{
		ServiceName:    serviceName,
		Logger:         a.Logger,
		Health:         registry,
		Jobs:           a.queue,
		Cards:          a.cardCopies,
		RateLimit:      a.Config.Ops.RateLimit,
		TracingEnabled: a.Config.Tracing.Enabled,
	}
	if a.deadLetters != nil {
		opts.DeadLetters = a.deadLetters
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      opsapi.NewRouter(ctx, opts),
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

// Run blocks until ctx is done or a component fails. A lost broker
// connection is returned as an error so the process exits non-zero.
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
		return a.onCreated.Listen(gCtx)
	})

	g.Go(func() error {
		return a.onCancelled.Listen(gCtx)
	})

	g.Go(func() error {
		return a.onModelCreated.Listen(gCtx)
	})

	g.Go(func() error {
		return a.onModelUpdated.Listen(gCtx)
	})

	g.Go(func() error {
		return a.worker.Run(gCtx, a.saga.Fire)
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
		case <-a.Conn.Done():
			if err := a.Conn.Err(); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down expiration service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
