package database

import (
	"context"
	"testing"

	"arbiter/internal/domain"
	"arbiter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRooms(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	room := &models.Room{ID: 7, Name: "Blue", Capacity: 4, Location: "2nd floor", IsActive: true}
	require.NoError(t, db.UpsertRoom(ctx, room))

	got, err := db.GetRoom(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Blue", got.Name)
	assert.True(t, got.IsActive)

	room.Name = "Blue Lounge"
	room.IsActive = false
	require.NoError(t, db.UpsertRoom(ctx, room))

	got, err = db.GetRoom(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Blue Lounge", got.Name)
	assert.False(t, got.IsActive)

	require.NoError(t, db.UpsertRoom(ctx, &models.Room{ID: 3, Name: "Green", IsActive: true}))
	rooms, err := db.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, int64(3), rooms[0].ID)

	_, err = db.GetRoom(ctx, 100)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	err = db.UpsertRoom(ctx, &models.Room{Name: "No id"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
