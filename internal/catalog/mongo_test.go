package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcore/internal/events"
	"eventcore/internal/logger"
	"eventcore/internal/testinfra"
	apperrors "eventcore/pkg/errors"
)

func TestMongoStore(t *testing.T) {
	db := testinfra.SetupMongo(t)
	ctx := context.Background()
	store := NewMongoStore(db, "catalog-test")

	inserted, err := store.Insert(ctx, Card{ID: "c1", ModelID: "m1", Price: 10, UserID: "u1", Version: 1})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Insert(ctx, Card{ID: "c1", ModelID: "m2", Version: 1})
	require.NoError(t, err)
	assert.False(t, inserted)

	applied, err := store.Advance(ctx, Card{ID: "c1", ModelID: "m1", Price: 10, UserID: "u1", OrderID: "o1", Version: 3})
	require.NoError(t, err)
	assert.False(t, applied, "version 2 is missing")

	applied, err = store.Advance(ctx, Card{ID: "c1", ModelID: "m1", Price: 10, UserID: "u1", OrderID: "o1", Version: 2})
	require.NoError(t, err)
	assert.True(t, applied)

	card, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "o1", card.OrderID)
	assert.Equal(t, 2, card.Version)

	applied, err = store.Advance(ctx, Card{ID: "c1", ModelID: "m1", Price: 10, UserID: "u1", Version: 3})
	require.NoError(t, err)
	assert.True(t, applied)

	card, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, card.OrderID)
	assert.Equal(t, 3, card.Version)

	_, err = store.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestServiceWithMongoStore(t *testing.T) {
	db := testinfra.SetupMongo(t)
	ctx := context.Background()
	svc := NewService(NewMongoStore(db, "catalog-test"), logger.NopLogger())

	require.NoError(t, svc.ModelCreated(ctx, events.ModelCreated{ID: "c1", ModelID: "m1", Price: 5, UserID: "u1"}))

	err := svc.ModelUpdated(ctx, events.ModelUpdated{ID: "c1", ModelID: "m1", Price: 5, UserID: "u1", Version: 3})
	assert.True(t, apperrors.IsConflict(err))

	require.NoError(t, svc.ModelUpdated(ctx, events.ModelUpdated{ID: "c1", ModelID: "m1", Price: 5, UserID: "u1", OrderID: "o1", Version: 2}))
	require.NoError(t, svc.ModelUpdated(ctx, events.ModelUpdated{ID: "c1", ModelID: "m1", Price: 5, UserID: "u1", OrderID: "o1", Version: 2}), "duplicate acks")
	require.NoError(t, svc.ModelUpdated(ctx, events.ModelUpdated{ID: "c1", ModelID: "m1", Price: 5, UserID: "u1", Version: 3}))
}
