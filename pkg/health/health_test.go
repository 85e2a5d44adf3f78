package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAggregatesStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{
			name:     "no checkers",
			checkers: nil,
			want:     StatusHealthy,
		},
		{
			name: "all healthy",
			checkers: []Checker{
				NewCheckFunc("kafka", func(context.Context) error { return nil }),
				NewCheckFunc("redis", func(context.Context) error { return nil }),
			},
			want: StatusHealthy,
		},
		{
			name: "one failing",
			checkers: []Checker{
				NewCheckFunc("kafka", func(context.Context) error { return errors.New("connection closed") }),
				NewCheckFunc("redis", func(context.Context) error { return nil }),
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewCheckerRegistry()
			for _, c := range tt.checkers {
				registry.Register(c)
			}

			result := registry.Check(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.Len(t, result.Checks, len(tt.checkers))
		})
	}
}

func TestKafkaCheckerWithoutBrokers(t *testing.T) {
	err := NewKafkaChecker(nil).Check(context.Background())
	assert.Error(t, err)
}
