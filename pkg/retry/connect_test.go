package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = fmt.Errorf("dial tcp 127.0.0.1:9092: %w", syscall.ECONNREFUSED)

func fastOptions(maxRetries int) Options {
	return Options{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDoSucceedsAfterTwoFailures(t *testing.T) {
	calls := 0
	opts := Options{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	start := time.Now()
	got, err := Do(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errRefused
		}
		return "connected", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "connected", got)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Connect(context.Background(), fastOptions(4), "kafka", func(context.Context) error {
		calls++
		return errRefused
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Equal(t, 5, calls)
}

func TestDoStopsNonConnectionErrors(t *testing.T) {
	calls := 0
	errBad := errors.New("authentication failed")

	err := Connect(context.Background(), fastOptions(30), "mongo", func(context.Context) error {
		calls++
		return errBad
	})

	require.ErrorIs(t, err, errBad)
	assert.Equal(t, DefaultNonConnectionRetries+1, calls)
}

func TestDoFatalErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := Connect(context.Background(), fastOptions(30), "redis", func(context.Context) error {
		calls++
		return NewFatalError(errRefused)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{MaxRetries: 30, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Connect(ctx, opts, "kafka", func(context.Context) error {
		return errRefused
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestDoDelaysAreMonotonicAndCapped(t *testing.T) {
	var delays []time.Duration
	opts := Options{
		MaxRetries:   8,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
		OnRetry: func(_ int, _ error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	_ = Connect(context.Background(), opts, "kafka", func(context.Context) error {
		return errRefused
	})

	require.Len(t, delays, 8)
	assert.Equal(t, time.Millisecond, delays[0])
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
		assert.LessOrEqual(t, delays[i], 10*time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, delays[len(delays)-1])
}

func TestDoJitterStaysInWindow(t *testing.T) {
	var delays []time.Duration
	opts := Options{
		MaxRetries:   5,
		InitialDelay: 4 * time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   1,
		Jitter:       0.5,
		OnRetry: func(_ int, _ error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	_ = Connect(context.Background(), opts, "kafka", func(context.Context) error {
		return errRefused
	})

	for _, d := range delays {
		assert.GreaterOrEqual(t, d, 2*time.Millisecond)
		assert.LessOrEqual(t, d, 6*time.Millisecond)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 30, opts.MaxRetries)
	assert.Equal(t, 2*time.Second, opts.InitialDelay)
	assert.Equal(t, 30*time.Second, opts.MaxDelay)
	assert.InDelta(t, 1.5, opts.Multiplier, 0.0001)
	assert.Equal(t, 3, opts.NonConnectionRetries)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errRefused, true},
		{"reset", syscall.ECONNRESET, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "kafka", IsNotFound: true}, true},
		{"net timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"not ready message", errors.New("broker not ready"), true},
		{"server selection", errors.New("server selection error: context deadline"), true},
		{"leader", errors.New("[5] Leader Not Available: the cluster is in the middle of a leadership election"), true},
		{"retryable wrapper", NewRetryableError(errors.New("boom")), true},
		{"auth", errors.New("SASL authentication failed"), false},
		{"decode", errors.New("invalid character 'x'"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionError(tt.err))
		})
	}
}
