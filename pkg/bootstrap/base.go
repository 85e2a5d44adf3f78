package bootstrap

import (
	"context"
	"fmt"

	"eventcore/internal/broker"
	"eventcore/internal/config"
	"eventcore/internal/logger"
	"eventcore/pkg/retry"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger
	Conn   *broker.Conn
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// StartupOptions turns the startup config into retry options for connects.
func StartupOptions(cfg config.StartupConfig, log logger.Logger) retry.Options {
	opts := retry.DefaultOptions()
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelay > 0 {
		opts.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		opts.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier >= 1 {
		opts.Multiplier = cfg.Multiplier
	}
	opts.Jitter = cfg.Jitter
	opts.Logger = log
	return opts
}

// InitBroker connects to Kafka with backoff and creates the topics for the
// given subjects.
func (b *Base) InitBroker(ctx context.Context, serviceName string, opts ...broker.ConnOption) error {
	cfg := b.Config.Broker.Kafka
	if cfg.ClientID == "" {
		cfg.ClientID = serviceName
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = serviceName
	}

	conn, err := retry.Do(ctx, StartupOptions(b.Config.Startup, b.Logger), func(ctx context.Context) (*broker.Conn, error) {
		return broker.Connect(ctx, cfg, b.Logger, opts...)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	b.Conn = conn
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Conn != nil {
		if err := b.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker close error: %w", err))
		}
	}

	return errs
}

// Shutdown closes the broker connection first so no new work arrives, then
// runs additionalShutdown for the stores.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
