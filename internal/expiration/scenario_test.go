package expiration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcore/internal/config"
	"eventcore/internal/delayqueue"
	"eventcore/internal/events"
	"eventcore/internal/logger"
	"eventcore/internal/orders"
	"eventcore/internal/testinfra"
)

// Runs both orders of the expiration scenario against real stores: o1 is
// never paid and expires, o2 is cancelled before its expiration date.
func TestExpirationScenarioWithStores(t *testing.T) {
	rdb := testinfra.SetupRedis(t)
	db := testinfra.SetupMongo(t)
	ctx := context.Background()

	queue := delayqueue.New(delayqueue.NewRedisStore(rdb, "scenario"), config.DelayQueueConfig{
		PollInterval: 20 * time.Millisecond,
		Lease:        time.Second,
		MaxAttempts:  3,
		RetryBackoff: 10 * time.Millisecond,
	}, logger.NopLogger())
	store := orders.NewMongoStore(db, "scenario")
	publisher := &fakePublisher{}
	saga := New(store, queue, publisher, logger.NopLogger())

	workerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = delayqueue.NewWorker(queue, logger.NopLogger()).Run(workerCtx, saga.Fire)
	}()

	o1 := events.OrderCreated{
		ID:             "o1",
		Status:         events.StatusWaitingPayment,
		ExpirationDate: time.Now().Add(300 * time.Millisecond),
		UserID:         "u1",
		AiModelCard:    events.OrderCard{CardRefID: "c1"},
	}
	o2 := o1
	o2.ID = "o2"
	o2.AiModelCard.CardRefID = "c2"

	require.NoError(t, saga.OrderCreated(ctx, o1))
	require.NoError(t, saga.OrderCreated(ctx, o2))
	require.NoError(t, saga.OrderCancelled(ctx, events.OrderCancelled{ID: "o2", AiModelCard: events.CancelledCard{CardRefID: "c2"}}))

	require.Eventually(t, func() bool {
		stats, err := queue.Stats(ctx)
		return err == nil && stats == delayqueue.Stats{}
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, []string{"o1"}, publisher.ids())

	got1, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, events.StatusExpired, got1.Status)
	assert.True(t, got1.ExpiredPublished)

	got2, err := store.Get(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, events.StatusCancelled, got2.Status)
}
