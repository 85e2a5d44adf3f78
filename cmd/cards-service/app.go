package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"eventcore/internal/broker"
	"eventcore/internal/cards"
	"eventcore/internal/config"
	"eventcore/internal/constants"
	"eventcore/internal/deadletter"
	"eventcore/internal/events"
	"eventcore/internal/logger"
	"eventcore/internal/opsapi"
	"eventcore/pkg/bootstrap"
	"eventcore/pkg/health"
	"eventcore/pkg/logging"
	"eventcore/pkg/metrics"
	"eventcore/pkg/migrations"
	"eventcore/pkg/tracing"
)

const serviceName = constants.ServiceCards

// runner is the part of broker.Listener the app needs; listeners for
// different event types share it.
type runner interface {
	Listen(ctx context.Context) error
}

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	mongoClient    *mongo.Client
	db             *sql.DB
	deadLetters    *deadletter.PostgresStore
	service        *cards.Service
	listeners      []runner
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
		events.ModelCreatedSubject,
		events.ModelUpdatedSubject,
		events.OrderCreatedSubject,
		events.OrderCancelledSubject,
		events.OrderExpiredSubject,
	); err != nil {
		return fmt.Errorf("failed to ensure topics: %w", err)
	}

	tp, err := tracing.Init(ctx, a.Config.Tracing, serviceName, a.Conn.Config())
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterCardsMetrics()
	metrics.RegisterOpsMetrics()

	a.initService()
	a.initHTTPServer(ctx)

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	if err := migrations.EnsureCardIndexes(ctx, a.dbConnector.MongoDatabase(mongoClient)); err != nil {
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

func (a *App) initService() {
	store := cards.NewMongoStore(a.dbConnector.MongoDatabase(a.mongoClient))
	publisher := broker.NewPublisher[events.ModelUpdated](a.Conn, a.Logger)
	a.service = cards.NewService(store, publisher, a.Logger)

	var opts []broker.ListenerOption
	if a.deadLetters != nil {
		opts = append(opts, broker.WithDeadLetterSink(a.deadLetters))
	}

	kafkaCfg := a.Conn.Config()
	a.listeners = []runner{
		broker.NewListener[events.ModelCreated](a.Conn, broker.NewSubscription(events.ModelCreatedSubject, kafkaCfg),
			a.service.HandleModelCreated, a.Logger, opts...),
		broker.NewListener[events.OrderCreated](a.Conn, broker.NewSubscription(events.OrderCreatedSubject, kafkaCfg),
			a.service.HandleOrderCreated, a.Logger, opts...),
		broker.NewListener[events.OrderCancelled](a.Conn, broker.NewSubscription(events.OrderCancelledSubject, kafkaCfg),
			a.service.HandleOrderCancelled, a.Logger, opts...),
		broker.NewListener[events.OrderExpired](a.Conn, broker.NewSubscription(events.OrderExpiredSubject, kafkaCfg),
			a.service.HandleOrderExpired, a.Logger, opts...),
	}
}

func (a *App) initHTTPServer(ctx context.Context) {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewMongoDBChecker(a.mongoClient))
	registry.Register(health.NewCheckFunc("kafka", a.Conn.Ping))
	if a.db != nil {
		registry.Register(health.NewPostgreSQLChecker(a.db))
	}

	opts := opsapi.Options{
		ServiceName:    serviceName,
		Logger:         a.Logger,
		Health:         registry,
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

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	for _, l := range a.listeners {
		g.Go(func() error {
			return l.Listen(gCtx)
		})
	}

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
	a.Logger.InfowCtx(shutdownCtx, "Shutting down cards service")

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

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
