package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	SourceListener   = "listener"
	SourceDelayQueue = "delayqueue"
)

// Letter is a message or job that exhausted its delivery attempts.
type Letter struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Group    string    `json:"group"`
	Subject  string    `json:"subject"`
	Key      string    `json:"key,omitempty"`
	Payload  []byte    `json:"payload"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failedAt"`
}

func NewLetter(source, group, subject, key string, payload []byte, reason string, attempts int) Letter {
	return Letter{
		ID:       uuid.NewString(),
		Source:   source,
		Group:    group,
		Subject:  subject,
		Key:      key,
		Payload:  payload,
		Reason:   reason,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
}

type Sink interface {
	Store(ctx context.Context, letter Letter) error
}

type Reader interface {
	List(ctx context.Context, limit int) ([]Letter, error)
}
