package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcore/internal/events"
	"eventcore/internal/logger"
	"eventcore/pkg/metrics"
)

type recorder struct {
	mu         sync.Mutex
	deliveries []int
	ids        []string
}

func (r *recorder) add(id string, delivery int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.deliveries = append(r.deliveries, delivery)
}

func (r *recorder) snapshot() ([]string, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...), append([]int(nil), r.deliveries...)
}

func startListener[T events.Event](t *testing.T, l *Listener[T]) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Listen(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
		}
	}
}

func publishExpired(t *testing.T, conn *Conn, ids ...string) {
	t.Helper()
	pub := NewPublisher[events.OrderExpired](conn, logger.NopLogger())
	for _, id := range ids {
		require.NoError(t, pub.Publish(context.Background(), events.OrderExpired{ID: id}))
	}
}

func TestListenerAcksAndCommits(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1", "o2")

	rec := &recorder{}
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			rec.add(data.ID, msg.DeliveryCount)
			return msg.Ack()
		}, logger.NopLogger())
	assert.Equal(t, StateCreated, l.State())

	stop := startListener(t, l)
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 2
	}, time.Second, 5*time.Millisecond)
	stop()

	ids, deliveries := rec.snapshot()
	assert.Equal(t, []string{"o1", "o2"}, ids)
	assert.Equal(t, []int{1, 1}, deliveries)
	assert.Equal(t, StateClosed, l.State())
}

func TestListenerRedeliversAfterHandlerError(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1")

	rec := &recorder{}
	var firstDelivery, secondDelivery time.Time
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			rec.add(data.ID, msg.DeliveryCount)
			if msg.DeliveryCount == 1 {
				firstDelivery = time.Now()
				return errors.New("mongo unavailable")
			}
			secondDelivery = time.Now()
			assert.True(t, msg.Redelivered())
			return msg.Ack()
		}, logger.NopLogger())

	stop := startListener(t, l)
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 1
	}, time.Second, 5*time.Millisecond)
	stop()

	_, deliveries := rec.snapshot()
	assert.Equal(t, []int{1, 2}, deliveries)
	assert.GreaterOrEqual(t, secondDelivery.Sub(firstDelivery), cfg.AckWait)
}

func TestListenerDoesNotAckOnDecodeFailure(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	conn := cluster.conn(cfg)

	w := &fakeWriter{cluster: cluster}
	require.NoError(t, w.WriteMessages(context.Background(), kafkaMessage(events.OrderExpiredSubject, `{"id":`)))

	calls := 0
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			calls++
			return msg.Ack()
		}, logger.NopLogger())

	stop := startListener(t, l)
	time.Sleep(3 * cfg.AckWait)
	stop()

	assert.Zero(t, calls)
	assert.Zero(t, cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()))
}

func TestListenerRecoversPanics(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1")

	rec := &recorder{}
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			rec.add(data.ID, msg.DeliveryCount)
			if msg.DeliveryCount == 1 {
				panic("nil map write")
			}
			return msg.Ack()
		}, logger.NopLogger())

	stop := startListener(t, l)
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 1
	}, time.Second, 5*time.Millisecond)
	stop()

	_, deliveries := rec.snapshot()
	assert.Equal(t, []int{1, 2}, deliveries)
}

func TestListenerRejectsAckAfterReturn(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1")

	lateAck := make(chan error, 1)
	var once sync.Once
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			if msg.DeliveryCount == 1 {
				once.Do(func() {
					go func() {
						time.Sleep(10 * time.Millisecond)
						lateAck <- msg.Ack()
					}()
				})
				return nil
			}
			return msg.Ack()
		}, logger.NopLogger())

	stop := startListener(t, l)
	require.ErrorIs(t, <-lateAck, ErrAckAfterReturn)
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 1
	}, time.Second, 5*time.Millisecond)
	stop()
}

func TestListenerHandlerContextCarriesAckDeadline(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1")

	remaining := make(chan time.Duration, 1)
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			remaining <- time.Until(deadline)
			return msg.Ack()
		}, logger.NopLogger())

	stop := startListener(t, l)
	got := <-remaining
	stop()

	assert.LessOrEqual(t, got, cfg.AckWait)
	assert.Greater(t, got, time.Duration(0))
}

func TestListenerAutoAckWhenManualAckDisabled(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1")

	sub := NewSubscription(events.OrderExpiredSubject, cfg)
	sub.ManualAck = false
	l := NewListener(conn, sub, func(ctx context.Context, data events.OrderExpired, msg *Message) error {
		return nil
	}, logger.NopLogger())

	stop := startListener(t, l)
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 1
	}, time.Second, 5*time.Millisecond)
	stop()
}

func TestListenerDeadLettersAfterMaxDeliver(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	cfg.AckWait = 10 * time.Millisecond
	cfg.MaxDeliver = 3
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "poison", "ok")

	sink := &memorySink{}
	rec := &recorder{}
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			rec.add(data.ID, msg.DeliveryCount)
			if data.ID == "poison" {
				return errors.New("card not found")
			}
			return msg.Ack()
		}, logger.NopLogger(), WithDeadLetterSink(sink))

	stop := startListener(t, l)
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 2
	}, time.Second, 5*time.Millisecond)
	stop()

	ids, deliveries := rec.snapshot()
	assert.Equal(t, []string{"poison", "poison", "poison", "ok"}, ids)
	assert.Equal(t, []int{1, 2, 3, 1}, deliveries)

	letters := sink.all()
	require.Len(t, letters, 1)
	assert.Equal(t, "handler_error", letters[0].Reason)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Equal(t, "poison", letters[0].Key)
	assert.Equal(t, "expiration-service", letters[0].Group)
	assert.JSONEq(t, `{"id":"poison"}`, string(letters[0].Payload))
}

func TestListenerWithoutSinkRedeliversForever(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	cfg.AckWait = 5 * time.Millisecond
	cfg.MaxDeliver = 2
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "poison")

	rec := &recorder{}
	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			rec.add(data.ID, msg.DeliveryCount)
			return errors.New("still failing")
		}, logger.NopLogger())

	stop := startListener(t, l)
	require.Eventually(t, func() bool {
		_, d := rec.snapshot()
		return len(d) >= 4
	}, time.Second, 5*time.Millisecond)
	stop()

	assert.Zero(t, cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()))
}

func TestUnackedMessageIsRedeliveredAfterRestart(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	cfg.AckWait = time.Second
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1")

	received := make(chan struct{})
	var once sync.Once
	first := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			once.Do(func() { close(received) })
			<-ctx.Done()
			return ctx.Err()
		}, logger.NopLogger())

	stop := startListener(t, first)
	<-received
	stop()
	require.Zero(t, cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()))

	rec := &recorder{}
	second := NewListener(cluster.conn(cfg), NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			rec.add(data.ID, msg.DeliveryCount)
			return msg.Ack()
		}, logger.NopLogger())

	stop = startListener(t, second)
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 1
	}, time.Second, 5*time.Millisecond)
	stop()

	ids, _ := rec.snapshot()
	assert.Equal(t, []string{"o1"}, ids)
}

func TestQueueGroupDeliversEachMessageToOneReplica(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	ids := []string{"o1", "o2", "o3", "o4", "o5", "o6", "o7", "o8"}
	publishExpired(t, cluster.conn(cfg), ids...)

	recs := []*recorder{{}, {}}
	var stops []func()
	for _, rec := range recs {
		rec := rec
		l := NewListener(cluster.conn(cfg), NewSubscription(events.OrderExpiredSubject, cfg),
			func(ctx context.Context, data events.OrderExpired, msg *Message) error {
				rec.add(data.ID, msg.DeliveryCount)
				return msg.Ack()
			}, logger.NopLogger())
		stops = append(stops, startListener(t, l))
	}

	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == int64(len(ids))
	}, time.Second, 5*time.Millisecond)
	for _, stop := range stops {
		stop()
	}

	seen := map[string]int{}
	for _, rec := range recs {
		got, _ := rec.snapshot()
		for _, id := range got {
			seen[id]++
		}
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], id)
	}
}

func TestSeparateGroupsEachReceiveEverything(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	publishExpired(t, cluster.conn(cfg), "o1", "o2")

	for _, group := range []string{"cards-service", "orders-service"} {
		gcfg := cfg
		gcfg.QueueGroup = group
		rec := &recorder{}
		l := NewListener(cluster.conn(gcfg), NewSubscription(events.OrderExpiredSubject, gcfg),
			func(ctx context.Context, data events.OrderExpired, msg *Message) error {
				rec.add(data.ID, msg.DeliveryCount)
				return msg.Ack()
			}, logger.NopLogger())

		stop := startListener(t, l)
		require.Eventually(t, func() bool {
			return cluster.committed(group, events.OrderExpiredSubject.Topic()) == 2
		}, time.Second, 5*time.Millisecond)
		stop()

		got, _ := rec.snapshot()
		assert.Equal(t, []string{"o1", "o2"}, got, group)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "redelivery_pending", StateRedeliveryPending.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestConsumerLag(t *testing.T) {
	tests := []struct {
		name string
		msg  kafka.Message
		want int64
	}{
		{"last message", kafka.Message{Offset: 9, HighWaterMark: 10}, 0},
		{"behind", kafka.Message{Offset: 2, HighWaterMark: 10}, 7},
		{"unknown high-water mark", kafka.Message{Offset: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, consumerLag(tt.msg))
		})
	}
}

func TestListenerRecordsLagOnCommit(t *testing.T) {
	cluster := newFakeCluster()
	cfg := testKafkaConfig()
	cfg.AckWait = time.Hour
	conn := cluster.conn(cfg)
	publishExpired(t, conn, "o1", "o2", "o3")

	l := NewListener(conn, NewSubscription(events.OrderExpiredSubject, cfg),
		func(ctx context.Context, data events.OrderExpired, msg *Message) error {
			if data.ID != "o1" {
				return errors.New("not yet")
			}
			return msg.Ack()
		}, logger.NopLogger())

	stop := startListener(t, l)
	defer stop()

	gauge := metrics.KafkaConsumerLag.WithLabelValues(conn.ServiceName(), events.OrderExpiredSubject.String(), "0")
	require.Eventually(t, func() bool {
		return cluster.committed(cfg.QueueGroup, events.OrderExpiredSubject.Topic()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))
}
