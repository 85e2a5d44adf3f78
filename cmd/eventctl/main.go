// Command eventctl publishes test events and tails subjects on the bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eventcore/internal/config"
	"eventcore/internal/constants"
	"eventcore/internal/logger"
)

var (
	brokers  []string
	logLevel string
	timeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "eventctl",
		Short:        "Publish and inspect events on the event bus",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringSliceVar(&brokers, "brokers", brokersFromEnv(), "Kafka seed brokers (or BROKER_KAFKA_BROKERS)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", constants.DefaultHTTPTimeout, "Timeout for connecting and publishing")

	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(subjectsCmd())
	rootCmd.AddCommand(pingCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func brokersFromEnv() []string {
	if v := os.Getenv("BROKER_KAFKA_BROKERS"); v != "" {
		return []string{v}
	}
	return []string{"localhost:9092"}
}

func kafkaConfig(clientID string) config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:           brokers,
		ClientID:          clientID,
		QueueGroup:        clientID,
		AckWait:           constants.DefaultAckWait,
		Partitions:        1,
		ReplicationFactor: 1,
	}
}

func newLogger() (logger.Logger, error) {
	return logger.New(logLevel, "console")
}
