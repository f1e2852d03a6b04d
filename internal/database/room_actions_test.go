package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/simon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomStatusUpdate(t *testing.T) {
	created := time.UnixMilli(1_700_000_000_000).UTC()
	at := created.Add(time.Minute)

	q, args := roomStatusUpdate(models.RoomAction{RoomID: "r", ActionType: models.ActionGameStart}, created, at)
	assert.Contains(t, q, "status = 'playing'")
	assert.Equal(t, []any{"r", created}, args)

	q, args = roomStatusUpdate(models.RoomAction{
		RoomID:        "r",
		ActionType:    models.ActionRoundStart,
		ActionPayload: map[string]interface{}{"round": float64(4)},
	}, created, at)
	assert.Contains(t, q, "last_round")
	assert.Equal(t, 4, args[2])

	q, _ = roomStatusUpdate(models.RoomAction{RoomID: "r", ActionType: models.ActionRoundStart}, created, at)
	assert.Empty(t, q)

	q, args = roomStatusUpdate(models.RoomAction{RoomID: "r", ActionType: models.ActionGameOver}, created, at)
	assert.Contains(t, q, "'finished'")
	assert.Equal(t, at, args[2])

	q, _ = roomStatusUpdate(models.RoomAction{RoomID: "r", ActionType: models.ActionRoomClosed}, created, at)
	assert.Contains(t, q, "'abandoned'")

	q, _ = roomStatusUpdate(models.RoomAction{RoomID: "r", ActionType: models.ActionPlayerJoined}, created, at)
	assert.Empty(t, q)
}

func TestPayloadInt(t *testing.T) {
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"round":3,"name":"x"}`), &decoded))

	n, ok := payloadInt(decoded, "round")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = payloadInt(decoded, "name")
	assert.False(t, ok)

	n, ok = payloadInt(map[string]interface{}{"round": json.Number("7")}, "round")
	assert.True(t, ok)
	assert.Equal(t, 7, n)
}

// TestSaveBatchAgainstPostgres runs only when SIMON_TEST_DATABASE_URL points
// at a scratch database.
func TestSaveBatchAgainstPostgres(t *testing.T) {
	url := os.Getenv("SIMON_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SIMON_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, EnsureSchema(ctx, pool))

	roomID := uuid.NewString()[:6]
	created := time.Now().UnixMilli()
	actions := []models.RoomAction{
		{RoomID: roomID, RoomCreatedAt: created, ActionIndex: 1, ActorConnID: uuid.New(), ActionType: models.ActionRoomCreated, ActionPayload: map[string]interface{}{}, Timestamp: created},
		{RoomID: roomID, RoomCreatedAt: created, ActionIndex: 2, ActionType: models.ActionGameStart, ActionPayload: map[string]interface{}{}, Timestamp: created + 10},
		{RoomID: roomID, RoomCreatedAt: created, ActionIndex: 3, ActionType: models.ActionRoundStart, ActionPayload: map[string]interface{}{"round": 1}, Timestamp: created + 20},
		{RoomID: roomID, RoomCreatedAt: created, ActionIndex: 4, ActionType: models.ActionGameOver, ActionPayload: map[string]interface{}{}, Timestamp: created + 30},
	}
	store := NewActionStore(pool)
	require.NoError(t, store.SaveBatch(ctx, actions))
	require.NoError(t, store.SaveBatch(ctx, actions), "replays are ignored")

	var status string
	var lastRound, count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status, last_round FROM rooms WHERE id = $1 AND created_at = $2`,
		roomID, time.UnixMilli(created).UTC()).Scan(&status, &lastRound))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM room_actions WHERE room_id = $1`, roomID).Scan(&count))
	assert.Equal(t, "finished", status)
	assert.Equal(t, 1, lastRound)
	assert.Equal(t, 4, count)
}
