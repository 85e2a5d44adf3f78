package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"eventcore/internal/config"
	"eventcore/internal/constants"
	"eventcore/internal/events"
	"eventcore/internal/logger"
)

var ErrConnectionLost = errors.New("broker connection lost")

// Conn is the process-wide broker connection. Publishers share its writer
// and listeners get their readers from it. Done is closed by Close or when
// the cluster stays unreachable for a whole session timeout.
type Conn struct {
	cfg    config.KafkaConfig
	logger logger.Logger

	dialer    *kafka.Dialer
	writer    Writer
	newReader ReaderFactory
	ping      func(ctx context.Context) error

	mu      sync.Mutex
	readers []Reader
	closed  bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
	stopWatch context.CancelFunc
}

type ConnOption func(*Conn)

func WithWriter(w Writer) ConnOption {
	return func(c *Conn) { c.writer = w }
}

func WithReaderFactory(f ReaderFactory) ConnOption {
	return func(c *Conn) { c.newReader = f }
}

func WithPing(fn func(ctx context.Context) error) ConnOption {
	return func(c *Conn) { c.ping = fn }
}

// NewConn builds a Conn without touching the network.
func NewConn(cfg config.KafkaConfig, log logger.Logger, opts ...ConnOption) *Conn {
	c := &Conn{
		cfg:    cfg,
		logger: log,
		dialer: &kafka.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   constants.KafkaWriteTimeout,
			DualStack: true,
		},
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.writer == nil {
		c.writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           constants.KafkaBatchTimeout,
			WriteTimeout:           constants.KafkaWriteTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
			Async:                  false,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
			},
		}
	}
	if c.newReader == nil {
		c.newReader = func(rc kafka.ReaderConfig) Reader {
			return kafka.NewReader(rc)
		}
	}
	if c.ping == nil {
		c.ping = c.pingBrokers
	}

	return c
}

// Connect dials the cluster once and fails if no seed broker answers.
// Callers wrap it in retry.Do for startup resilience.
func Connect(ctx context.Context, cfg config.KafkaConfig, log logger.Logger, opts ...ConnOption) (*Conn, error) {
	c := NewConn(cfg, log, opts...)
	if err := c.Ping(ctx); err != nil {
		_ = c.writer.Close()
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}

	log.Infow("Connected to Kafka",
		"brokers", cfg.Brokers,
		"client_id", cfg.ClientID,
	)

	c.Watch(cfg.HeartbeatInterval, cfg.SessionTimeout)
	return c, nil
}

func (c *Conn) Config() config.KafkaConfig {
	return c.cfg
}

func (c *Conn) ServiceName() string {
	if c.cfg.QueueGroup != "" {
		return c.cfg.QueueGroup
	}
	return c.cfg.ClientID
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

func (c *Conn) pingBrokers(ctx context.Context) error {
	var lastErr error
	for _, addr := range c.cfg.Brokers {
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return lastErr
}

// EnsureTopics creates the topics for subjects. Topic auto-creation is off,
// so services call this at startup for every subject they touch.
func (c *Conn) EnsureTopics(ctx context.Context, subjects ...events.Subject) error {
	if len(subjects) == 0 {
		return nil
	}

	seed, err := c.dialAny(ctx)
	if err != nil {
		return err
	}
	defer seed.Close()

	controller, err := seed.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}

	ctrl, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer ctrl.Close()

	partitions := c.cfg.Partitions
	if partitions < 1 {
		partitions = 1
	}
	replication := c.cfg.ReplicationFactor
	if replication < 1 {
		replication = 1
	}

	topics := make([]kafka.TopicConfig, 0, len(subjects))
	for _, s := range subjects {
		topics = append(topics, kafka.TopicConfig{
			Topic:             s.Topic(),
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		})
	}

	if err := ctrl.CreateTopics(topics...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	c.logger.Infow("Kafka topics ensured", "count", len(topics))
	return nil
}

func (c *Conn) dialAny(ctx context.Context) (*kafka.Conn, error) {
	var lastErr error
	for _, addr := range c.cfg.Brokers {
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return nil, fmt.Errorf("failed to dial kafka: %w", lastErr)
}

func (c *Conn) openReader(sub Subscription) (Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionLost
	}

	r := c.newReader(sub.readerConfig(c.cfg))
	c.readers = append(c.readers, r)
	return r, nil
}

func (c *Conn) releaseReader(r Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.readers {
		if existing == r {
			c.readers = append(c.readers[:i], c.readers[i+1:]...)
			break
		}
	}
}

// Watch pings the cluster every interval and declares the connection lost
// once no ping succeeded for timeout.
func (c *Conn) Watch(interval, timeout time.Duration) {
	if interval <= 0 || timeout <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.stopWatch = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		lastOK := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			pingCtx, cancelPing := context.WithTimeout(ctx, interval)
			err := c.ping(pingCtx)
			cancelPing()

			if err == nil {
				lastOK = time.Now()
				continue
			}
			if ctx.Err() != nil {
				return
			}

			c.logger.Warnw("Kafka ping failed", "error", err, "since_last_ok", time.Since(lastOK).String())
			if time.Since(lastOK) >= timeout {
				c.fail(fmt.Errorf("%w: %v", ErrConnectionLost, err))
				return
			}
		}
	}()
}

func (c *Conn) fail(err error) {
	c.logger.Errorw("Kafka connection lost", "error", err)
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.shutdown()
}

// Done is closed once the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why Done was closed; nil after a requested Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	return c.shutdown()
}

func (c *Conn) shutdown() error {
	var errs []error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		readers := c.readers
		c.readers = nil
		stop := c.stopWatch
		c.mu.Unlock()

		if stop != nil {
			stop()
		}

		for _, r := range readers {
			if err := r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.writer.Close(); err != nil {
			errs = append(errs, err)
		}

		close(c.done)
	})

	return errors.Join(errs...)
}
