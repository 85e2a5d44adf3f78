package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateKafka(cfg.Broker.Kafka); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateDelayQueue(cfg.DelayQueue); err != nil {
		errors = append(errors, err)
	}

	if err := validateStartup(cfg.Startup); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.ClientID == "" {
		return &ValidationError{
			Field:   "broker.kafka.client_id",
			Message: "client id is required",
		}
	}

	if cfg.QueueGroup == "" {
		return &ValidationError{
			Field:   "broker.kafka.queue_group",
			Message: "queue group is required",
		}
	}

	if cfg.AckWait <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.ack_wait",
			Message: "ack wait must be positive",
		}
	}

	if cfg.MaxDeliver < 0 {
		return &ValidationError{
			Field:   "broker.kafka.max_deliver",
			Message: "max_deliver must be non-negative (0 means unbounded)",
		}
	}

	if cfg.Partitions < 1 {
		return &ValidationError{
			Field:   "broker.kafka.partitions",
			Message: "partitions must be at least 1",
		}
	}

	if cfg.ReplicationFactor < 1 {
		return &ValidationError{
			Field:   "broker.kafka.replication_factor",
			Message: "replication_factor must be at least 1",
		}
	}

	if cfg.HeartbeatInterval >= cfg.SessionTimeout {
		return &ValidationError{
			Field:   "broker.kafka.heartbeat_interval",
			Message: "heartbeat interval must be shorter than the session timeout",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateDelayQueue(cfg DelayQueueConfig) error {
	if cfg.Name == "" {
		return &ValidationError{
			Field:   "delay_queue.name",
			Message: "queue name is required",
		}
	}

	if cfg.PollInterval <= 0 {
		return &ValidationError{
			Field:   "delay_queue.poll_interval",
			Message: "poll interval must be positive",
		}
	}

	if cfg.Lease <= 0 {
		return &ValidationError{
			Field:   "delay_queue.lease",
			Message: "lease must be positive",
		}
	}

	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "delay_queue.max_attempts",
			Message: "max_attempts must be at least 1",
		}
	}

	if cfg.BatchSize < 1 {
		return &ValidationError{
			Field:   "delay_queue.batch_size",
			Message: "batch_size must be at least 1",
		}
	}

	return nil
}

func validateStartup(cfg StartupConfig) error {
	if cfg.MaxRetries < 0 {
		return &ValidationError{
			Field:   "startup.max_retries",
			Message: "max_retries must be non-negative",
		}
	}

	if cfg.InitialDelay <= 0 {
		return &ValidationError{
			Field:   "startup.initial_delay",
			Message: "initial_delay must be positive",
		}
	}

	if cfg.MaxDelay < cfg.InitialDelay {
		return &ValidationError{
			Field:   "startup.max_delay",
			Message: "max_delay must be greater than or equal to initial_delay",
		}
	}

	if cfg.Multiplier < 1 {
		return &ValidationError{
			Field:   "startup.multiplier",
			Message: "multiplier must be at least 1",
		}
	}

	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return &ValidationError{
			Field:   "startup.jitter",
			Message: "jitter must be in [0, 1)",
		}
	}

	return nil
}
