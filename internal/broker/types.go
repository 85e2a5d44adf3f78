package broker

import (
	"context"

	"github.com/segmentio/kafka-go"

	"eventcore/internal/deadletter"
)

// Writer is the part of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reader is the part of *kafka.Reader a listener needs. Offsets only move
// through CommitMessages.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ReaderFactory func(cfg kafka.ReaderConfig) Reader

// DeadLetterSink archives messages that exhausted their deliveries.
type DeadLetterSink interface {
	Store(ctx context.Context, letter deadletter.Letter) error
}

const (
	headerContentType = "content-type"
	headerSubject     = "subject"
)
