// internal/models/room_action.go
package models

import "github.com/google/uuid"

// RoomAction is one entry of a room's action log. Rooms publish these to the
// Redis queue and the historian persists them.
type RoomAction struct {
	RoomID        string                 `json:"room_id"`
	RoomCreatedAt int64                  `json:"room_created_at"` // epoch millis; ids are only unique among live rooms
	ActionIndex   int                    `json:"action_index"`
	ActorConnID   uuid.UUID              `json:"actor_conn_id"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"` // epoch millis
}

// Action types recorded by rooms.
const (
	ActionRoomCreated        = "room_created"
	ActionPlayerJoined       = "player_joined"
	ActionPlayerLeft         = "player_left"
	ActionGameStart          = "game_start"
	ActionRoundStart         = "round_start"
	ActionPlayerEliminated   = "player_eliminated"
	ActionPlayerGaveUp       = "player_gave_up"
	ActionPlayerDisconnected = "player_disconnected"
	ActionRoundSummary       = "round_summary"
	ActionGameOver           = "game_over"
	ActionRoomClosed         = "room_closed"
)
