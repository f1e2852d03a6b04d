package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/simon/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastReachesSubscribersOnly(t *testing.T) {
	hub := NewHub(quietLogger())
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	qa := hub.Register(a, 4)
	qb := hub.Register(b, 4)
	qc := hub.Register(c, 4)

	hub.Subscribe("room1", a)
	hub.Subscribe("room1", b)
	hub.Subscribe("room2", c)

	hub.Broadcast("room1", game.Event{Type: game.EventGameStart})
	assert.Len(t, qa, 1)
	assert.Len(t, qb, 1)
	assert.Empty(t, qc)

	hub.Unsubscribe("room1", b)
	hub.Broadcast("room1", game.Event{Type: game.EventRoundStart})
	assert.Len(t, qa, 2)
	assert.Len(t, qb, 1)

	hub.Send(c, game.Event{Type: game.EventInputResult})
	ev := <-qc
	assert.Equal(t, game.EventInputResult, ev.Type)
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(quietLogger())
	id := uuid.New()
	q := hub.Register(id, 1)

	hub.Send(id, game.Event{Type: game.EventLobbyUpdate})
	hub.Send(id, game.Event{Type: game.EventGameStart}) // dropped, must not block
	require.Len(t, q, 1)
	assert.Equal(t, game.EventLobbyUpdate, (<-q).Type)
}

func TestHubUnregisterClosesQueue(t *testing.T) {
	hub := NewHub(quietLogger())
	id := uuid.New()
	q := hub.Register(id, 1)
	hub.Subscribe("r", id)

	hub.Unregister(id)
	_, open := <-q
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("r"))
	assert.Equal(t, 0, hub.Connections())

	// sends after unregister are no-ops
	hub.Send(id, game.Event{Type: game.EventGameOver})
	hub.Broadcast("r", game.Event{Type: game.EventGameOver})
}
