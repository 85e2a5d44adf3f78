package broker

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"eventcore/internal/config"
	"eventcore/internal/deadletter"
	"eventcore/internal/events"
	"eventcore/internal/logger"
)

// fakeCluster keeps one single-partition log per topic and one shared
// cursor per consumer group, so readers in the same group split messages
// and closing a reader rewinds the group to its committed offset.
type fakeCluster struct {
	mu       sync.Mutex
	logs     map[string][]kafka.Message
	groups   map[string]*fakeGroup
	writeErr error
	commits  []kafka.Message
}

type fakeGroup struct {
	next      int64
	committed int64
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		logs:   map[string][]kafka.Message{},
		groups: map[string]*fakeGroup{},
	}
}

func (c *fakeCluster) conn(cfg config.KafkaConfig) *Conn {
	return NewConn(cfg, logger.NopLogger(),
		WithWriter(&fakeWriter{cluster: c}),
		WithReaderFactory(c.newReader),
		WithPing(func(context.Context) error { return nil }),
	)
}

func (c *fakeCluster) group(groupID, topic string) *fakeGroup {
	key := groupID + "|" + topic
	g, ok := c.groups[key]
	if !ok {
		g = &fakeGroup{}
		c.groups[key] = g
	}
	return g
}

func (c *fakeCluster) messages(topic string) []kafka.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]kafka.Message(nil), c.logs[topic]...)
}

func (c *fakeCluster) committed(groupID, topic string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group(groupID, topic).committed
}

func (c *fakeCluster) newReader(rc kafka.ReaderConfig) Reader {
	return &fakeReader{cluster: c, groupID: rc.GroupID, topic: rc.Topic, config: rc}
}

type fakeWriter struct {
	cluster *fakeCluster
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c := w.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	for _, m := range msgs {
		m.Offset = int64(len(c.logs[m.Topic]))
		c.logs[m.Topic] = append(c.logs[m.Topic], m)
	}
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	cluster *fakeCluster
	groupID string
	topic   string
	config  kafka.ReaderConfig

	mu     sync.Mutex
	closed bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return kafka.Message{}, io.EOF
		}

		c := r.cluster
		c.mu.Lock()
		g := c.group(r.groupID, r.topic)
		log := c.logs[r.topic]
		if g.next < int64(len(log)) {
			m := log[g.next]
			m.HighWaterMark = int64(len(log))
			g.next++
			c.mu.Unlock()
			return m, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	c := r.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	g := c.group(r.groupID, r.topic)
	for _, m := range msgs {
		if m.Offset+1 > g.committed {
			g.committed = m.Offset + 1
		}
		c.commits = append(c.commits, m)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	c := r.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.group(r.groupID, r.topic)
	g.next = g.committed
	return nil
}

type memorySink struct {
	mu      sync.Mutex
	letters []deadletter.Letter
	err     error
}

func (s *memorySink) Store(_ context.Context, letter deadletter.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.letters = append(s.letters, letter)
	return nil
}

func (s *memorySink) all() []deadletter.Letter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]deadletter.Letter(nil), s.letters...)
}

func testKafkaConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:    []string{"localhost:9092"},
		ClientID:   "test-client",
		QueueGroup: "expiration-service",
		AckWait:    50 * time.Millisecond,
	}
}

func kafkaMessage(subject events.Subject, value string) kafka.Message {
	return kafka.Message{Topic: subject.Topic(), Value: []byte(value)}
}
