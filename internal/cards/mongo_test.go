package cards

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcore/internal/testinfra"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/migrations"
)

func TestMongoStore(t *testing.T) {
	db := testinfra.SetupMongo(t)
	ctx := context.Background()
	require.NoError(t, migrations.EnsureCardIndexes(ctx, db))
	store := NewMongoStore(db)

	inserted, err := store.Insert(ctx, Card{ID: "c1", ModelID: "m1", Price: 10, UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Insert(ctx, Card{ID: "c1", ModelID: "m2"})
	require.NoError(t, err)
	assert.False(t, inserted)

	card, changed, err := store.Reserve(ctx, "c1", "o1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "o1", card.OrderID)
	assert.Equal(t, 2, card.Version)

	_, changed, err = store.Reserve(ctx, "c1", "o1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = store.Reserve(ctx, "c1", "o2")
	assert.True(t, apperrors.IsConflict(err))

	held, err := store.FindByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "c1", held.ID)

	_, _, err = store.Release(ctx, "c1", "o2")
	assert.True(t, apperrors.IsConflict(err))

	card, changed, err = store.Release(ctx, "c1", "o1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, card.OrderID)
	assert.Equal(t, 3, card.Version)

	_, err = store.FindByOrder(ctx, "o1")
	assert.True(t, apperrors.IsNotFound(err))

	_, _, err = store.Reserve(ctx, "missing", "o1")
	assert.True(t, apperrors.IsNotFound(err))

	released, err := store.Released(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, released)

	require.NoError(t, store.MarkReleased(ctx, "o1"))
	require.NoError(t, store.MarkReleased(ctx, "o1"), "marking twice is a no-op")

	released, err = store.Released(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, released)
}
