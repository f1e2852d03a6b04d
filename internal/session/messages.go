// internal/session/messages.go
package session

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/simon/internal/game"
)

// Inbound message types.
const (
	MsgCheckActiveLobby = "checkActiveLobby"
	MsgCreateLobby      = "createLobby"
	MsgJoinLobby        = "joinLobby"
	MsgHostStartEarly   = "hostStartEarly"
	MsgPlayerInput      = "playerInput"
	MsgGiveUp           = "giveUp"
)

// Inbound is a client request. Fields that a type does not use are ignored.
type Inbound struct {
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Color      string `json:"color,omitempty"`
}

var (
	ErrMalformed   = &game.PolicyError{Reason: "malformed message", Message: "Invalid message format."}
	ErrUnknownType = &game.PolicyError{Reason: "unknown message type", Message: "Unknown request."}
)

// DecodeInbound parses one text frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}
