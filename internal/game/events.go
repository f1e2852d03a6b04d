// internal/game/events.go
package game

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/simon/internal/sequence"
)

// EventType names an outbound message.
type EventType string

const (
	EventLobbyStatus      EventType = "lobbyStatus"      // reply to checkActiveLobby
	EventLobbyCreated     EventType = "lobbyCreated"     // private, to the host
	EventJoinedLobby      EventType = "joinedLobby"      // private, to a joining player
	EventLobbyUpdate      EventType = "lobbyUpdate"      // roster and countdown
	EventGameStart        EventType = "gameStart"        // lobby closed, countdown animation begins
	EventRoundStart       EventType = "roundStart"       // round number and pattern length
	EventPlaySequence     EventType = "playSequence"     // full pattern with playback timing
	EventStartInputPhase  EventType = "startInputPhase"  // playback finished
	EventInputResult      EventType = "inputResult"      // private, per input
	EventPlayerEliminated EventType = "playerEliminated" // someone is out
	EventRoundSummary     EventType = "roundSummary"     // everyone alive finished the round
	EventGameOver         EventType = "gameOver"         // final leaderboard
	EventErrorMessage     EventType = "errorMessage"     // private, rejected request
)

// Event is the envelope written to clients.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Broadcaster delivers room events. Rooms subscribe their members and
// publish; how the bytes reach a socket is up to the implementation.
type Broadcaster interface {
	Subscribe(roomID string, connID uuid.UUID)
	Unsubscribe(roomID string, connID uuid.UUID)
	Broadcast(roomID string, ev Event)
	Send(connID uuid.UUID, ev Event)
}

type LobbyStatus struct {
	HasActiveLobby  bool   `json:"hasActiveLobby"`
	Difficulty      string `json:"difficulty,omitempty"`
	DifficultyLabel string `json:"difficultyLabel,omitempty"`
	TimeLeft        *int   `json:"timeLeft,omitempty"`
}

// LobbyJoined is the payload of both lobbyCreated and joinedLobby.
type LobbyJoined struct {
	RoomID          string `json:"roomId"`
	Difficulty      string `json:"difficulty"`
	DifficultyLabel string `json:"difficultyLabel"`
}

type LobbyPlayer struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type LobbyUpdate struct {
	RoomID          string        `json:"roomId"`
	Difficulty      string        `json:"difficulty"`
	DifficultyLabel string        `json:"difficultyLabel"`
	TimeLeft        int           `json:"timeLeft"`
	Players         []LobbyPlayer `json:"players"`
}

type GameStart struct {
	Difficulty      string `json:"difficulty"`
	DifficultyLabel string `json:"difficultyLabel"`
}

type RoundStart struct {
	Round          int `json:"round"`
	SequenceLength int `json:"sequenceLength"`
}

type PlaySequence struct {
	Sequence []sequence.Color `json:"sequence"`
	OnTime   int              `json:"onTime"`
	OffTime  int              `json:"offTime"`
}

type StartInputPhase struct{}

type InputResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PlayerEliminated struct {
	Name           string `json:"name"`
	RoundsSurvived int    `json:"roundsSurvived"`
}

type PlayerSummary struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Alive          bool      `json:"alive"`
	RoundsSurvived int       `json:"roundsSurvived"`
}

type RoundSummary struct {
	Summary []PlayerSummary `json:"summary"`
}

type LeaderboardEntry struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	RoundsSurvived int       `json:"roundsSurvived"`
	TimeSeconds    float64   `json:"timeSeconds"`
}

type GameOver struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type ErrorMessage struct {
	Text string `json:"text"`
}

// ErrorEvent wraps err as an errorMessage for the client that caused it.
func ErrorEvent(err error) Event {
	return Event{Type: EventErrorMessage, Payload: ErrorMessage{Text: UserMessage(err)}}
}
