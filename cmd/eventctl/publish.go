package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"eventcore/internal/broker"
	"eventcore/internal/constants"
	"eventcore/internal/events"
	"eventcore/internal/logger"
)

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a single event",
	}
	cmd.AddCommand(orderCreatedCmd())
	cmd.AddCommand(orderCancelledCmd())
	cmd.AddCommand(modelCreatedCmd())
	return cmd
}

func orderCreatedCmd() *cobra.Command {
	var (
		id, userID, cardID string
		price, version     int
		expiresIn          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "order-created",
		Short: "Publish OrderCreated for a new unpaid order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			data := events.OrderCreated{
				ID:             id,
				Status:         events.StatusWaitingPayment,
				ExpirationDate: time.Now().UTC().Add(expiresIn),
				UserID:         userID,
				Version:        version,
				AiModelCard: events.OrderCard{
					CardRefID: cardID,
					ID:        cardID,
					Price:     price,
					UserID:    userID,
				},
			}
			return publish(cmd.Context(), data)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Order id (random when empty)")
	cmd.Flags().StringVar(&userID, "user", "", "Buyer id")
	cmd.Flags().StringVar(&cardID, "card", "", "Card id")
	cmd.Flags().IntVar(&price, "price", 0, "Card price")
	cmd.Flags().IntVar(&version, "version", 0, "Order version")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", constants.OrderExpirationWindow, "Time until the order expires")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("card")
	return cmd
}

func orderCancelledCmd() *cobra.Command {
	var (
		id, userID, cardID string
		version            int
	)

	cmd := &cobra.Command{
		Use:   "order-cancelled",
		Short: "Publish OrderCancelled for an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			data := events.OrderCancelled{
				ID:      id,
				UserID:  userID,
				Version: version,
				AiModelCard: events.CancelledCard{
					CardRefID: cardID,
				},
			}
			return publish(cmd.Context(), data)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Order id")
	cmd.Flags().StringVar(&userID, "user", "", "Buyer id")
	cmd.Flags().StringVar(&cardID, "card", "", "Card id")
	cmd.Flags().IntVar(&version, "version", 1, "Order version")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("card")
	return cmd
}

func modelCreatedCmd() *cobra.Command {
	var (
		id, modelID, userID string
		price, rank         int
	)

	cmd := &cobra.Command{
		Use:   "model-created",
		Short: "Publish ModelCreated for a new card",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			data := events.ModelCreated{
				ID:      id,
				ModelID: modelID,
				Price:   price,
				Rank:    rank,
				UserID:  userID,
			}
			return publish(cmd.Context(), data)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Card id (random when empty)")
	cmd.Flags().StringVar(&modelID, "model", "", "Model id")
	cmd.Flags().StringVar(&userID, "user", "", "Owner id")
	cmd.Flags().IntVar(&price, "price", 0, "Price")
	cmd.Flags().IntVar(&rank, "rank", 0, "Rank")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func publish[T events.Event](ctx context.Context, data T) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := connect(ctx, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.EnsureTopics(ctx, data.Subject()); err != nil {
		return err
	}

	if err := broker.NewPublisher[T](conn, log).Publish(ctx, data); err != nil {
		return err
	}

	return printEvent(data.Subject(), data)
}

func connect(ctx context.Context, log logger.Logger) (*broker.Conn, error) {
	conn, err := broker.Connect(ctx, kafkaConfig("eventctl"), log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %v: %w", brokers, err)
	}
	return conn, nil
}

func printEvent(subject events.Subject, data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(struct {
		Subject events.Subject `json:"subject"`
		Data    interface{}    `json:"data"`
	}{subject, data})
}
