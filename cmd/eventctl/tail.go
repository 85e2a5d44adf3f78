package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"eventcore/internal/broker"
	"eventcore/internal/events"
	"eventcore/internal/logger"
)

func tailCmd() *cobra.Command {
	var fromStart bool

	cmd := &cobra.Command{
		Use:   "tail <subject>",
		Short: "Print events of a subject as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, err := events.ParseSubject(args[0])
			if err != nil {
				return err
			}

			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			conn, err := connect(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer conn.Close()

			// A throwaway group sees every message without stealing
			// partitions from the real consumers.
			sub := broker.Subscription{
				Subject:             subject,
				QueueGroup:          "eventctl-" + uuid.NewString(),
				DeliverAllAvailable: fromStart,
			}
			return tail(cmd.Context(), conn, sub, log)
		},
	}

	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Replay the subject from the oldest retained event")
	return cmd
}

func tail(ctx context.Context, conn *broker.Conn, sub broker.Subscription, log logger.Logger) error {
	switch sub.Subject {
	case events.OrderCreatedSubject:
		return listen[events.OrderCreated](ctx, conn, sub, log)
	case events.OrderCancelledSubject:
		return listen[events.OrderCancelled](ctx, conn, sub, log)
	case events.OrderExpiredSubject:
		return listen[events.OrderExpired](ctx, conn, sub, log)
	case events.ModelCreatedSubject:
		return listen[events.ModelCreated](ctx, conn, sub, log)
	case events.ModelUpdatedSubject:
		return listen[events.ModelUpdated](ctx, conn, sub, log)
	}
	return fmt.Errorf("no listener for subject %q", sub.Subject)
}

func listen[T events.Event](ctx context.Context, conn *broker.Conn, sub broker.Subscription, log logger.Logger) error {
	handler := func(ctx context.Context, data T, msg *broker.Message) error {
		return printEvent(sub.Subject, data)
	}
	return broker.NewListener[T](conn, sub, handler, log).Listen(ctx)
}

func subjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subjects",
		Short: "List known subjects and their Kafka topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range events.Subjects() {
				fmt.Printf("%-28s %s\n", s, s.Topic())
			}
			return nil
		},
	}
}
