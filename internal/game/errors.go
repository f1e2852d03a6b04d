// internal/game/errors.go
package game

import "errors"

// PolicyError is a rejected request. Message is shown to the client that sent
// it; the room is left untouched.
type PolicyError struct {
	Reason  string
	Message string
}

func (e *PolicyError) Error() string { return e.Reason }

var (
	ErrLobbyActive   = &PolicyError{"lobby already active", "A lobby is already active. Join instead of creating a new one."}
	ErrNoActiveLobby = &PolicyError{"no active lobby", "No active lobby to join. Ask someone to host a new game."}
	ErrAlreadyJoined = &PolicyError{"already joined", "You are already in this lobby."}
	ErrAlreadyInRoom = &PolicyError{"already in a room", "You are already in a game."}
	ErrNotInRoom     = &PolicyError{"not in a room", "You are not in a lobby."}
	ErrNotHost       = &PolicyError{"not host", "Only the host can start the game early."}
	ErrNoPlayers     = &PolicyError{"no players", "At least one player is needed to start."}
	ErrNotInLobby    = &PolicyError{"not in lobby", "The game has already started."}
	ErrRoomClosed    = &PolicyError{"room closed", "This game has already finished."}
)

// UserMessage returns the text to put in an errorMessage event for err.
func UserMessage(err error) string {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return "Something went wrong. Please try again."
}
