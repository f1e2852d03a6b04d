// internal/session/gateway.go
package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/simon/internal/game"
	"github.com/jason-s-yu/simon/internal/sequence"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the outbound buffer of a connection when none is set.
const DefaultQueueSize = 64

// Session is one client connection. It is driven by that connection's read
// loop and is not safe for concurrent use.
type Session struct {
	ID     uuid.UUID
	Remote string
	Out    <-chan game.Event

	room *game.Room
	log  logrus.FieldLogger
}

// Room returns the room the session last created or joined, or nil.
func (s *Session) Room() *game.Room {
	return s.room
}

// activeRoom is the session's room unless that game is already over.
func (s *Session) activeRoom() *game.Room {
	if s.room == nil || s.room.Finished() {
		return nil
	}
	return s.room
}

// Gateway turns client messages into registry and room calls.
type Gateway struct {
	rooms     *game.RoomStore
	hub       *Hub
	queueSize int
	log       logrus.FieldLogger
}

func NewGateway(rooms *game.RoomStore, hub *Hub, queueSize int, logger logrus.FieldLogger) *Gateway {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Gateway{rooms: rooms, hub: hub, queueSize: queueSize, log: logger}
}

// Connect registers a new connection with the hub.
func (g *Gateway) Connect(remote string) *Session {
	id := uuid.New()
	s := &Session{
		ID:     id,
		Remote: remote,
		log:    g.log.WithFields(logrus.Fields{"conn": id, "remote": remote}),
	}
	s.Out = g.hub.Register(id, g.queueSize)
	s.log.Debug("Session opened")
	return s
}

// Disconnect runs the room's leave logic and closes the outbound queue.
func (g *Gateway) Disconnect(s *Session) {
	if s.room != nil {
		s.room.Leave(s.ID)
		s.room = nil
	}
	g.hub.Unregister(s.ID)
	s.log.Debug("Session closed")
}

// HandleRaw decodes a frame and dispatches it.
func (g *Gateway) HandleRaw(s *Session, data []byte) error {
	msg, err := DecodeInbound(data)
	if err != nil {
		g.reject(s, err)
		return err
	}
	return g.Handle(s, msg)
}

// Handle dispatches one message. A rejected request is answered with an
// errorMessage to the sender only, and the error is returned.
func (g *Gateway) Handle(s *Session, msg Inbound) error {
	var err error
	switch msg.Type {
	case MsgCheckActiveLobby:
		g.checkActiveLobby(s)
	case MsgCreateLobby:
		err = g.createLobby(s, msg)
	case MsgJoinLobby:
		err = g.joinLobby(s, msg)
	case MsgHostStartEarly:
		err = g.hostStartEarly(s)
	case MsgPlayerInput:
		if room := s.room; room != nil {
			color := sequence.Color(msg.Color)
			if _, perr := sequence.ParseColor(msg.Color); perr != nil {
				s.log.WithError(perr).Debug("Unrecognised color counts as a miss")
			}
			room.SubmitInput(s.ID, color)
		}
	case MsgGiveUp:
		if room := s.room; room != nil {
			room.GiveUp(s.ID)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	if err != nil {
		g.reject(s, err)
	}
	return err
}

func (g *Gateway) reject(s *Session, err error) {
	s.log.WithError(err).Debug("Request rejected")
	g.hub.Send(s.ID, game.ErrorEvent(err))
}

func (g *Gateway) checkActiveLobby(s *Session) {
	status := game.LobbyStatus{HasActiveLobby: false}
	if lobby := g.rooms.FindActiveLobby(); lobby != nil {
		status = lobby.LobbyStatus()
	}
	g.hub.Send(s.ID, game.Event{Type: game.EventLobbyStatus, Payload: status})
}

func (g *Gateway) createLobby(s *Session, msg Inbound) error {
	if s.activeRoom() != nil {
		return game.ErrAlreadyInRoom
	}
	room, err := g.rooms.CreateRoom(s.ID, msg.Name, msg.Difficulty)
	if err != nil {
		return err
	}
	g.switchRoom(s, room)
	return nil
}

func (g *Gateway) joinLobby(s *Session, msg Inbound) error {
	lobby := g.rooms.FindActiveLobby()
	if lobby == nil {
		return game.ErrNoActiveLobby
	}
	if cur := s.activeRoom(); cur != nil && cur != lobby {
		return game.ErrAlreadyInRoom
	}

	err := lobby.Join(s.ID, msg.Name)
	switch {
	case errors.Is(err, game.ErrNotInLobby), errors.Is(err, game.ErrRoomClosed):
		// started or closed between the lookup and the join
		return game.ErrNoActiveLobby
	case err != nil:
		return err
	}
	g.switchRoom(s, lobby)
	return nil
}

func (g *Gateway) hostStartEarly(s *Session) error {
	if s.room == nil {
		return game.ErrNotInRoom
	}
	return s.room.ForceStart(s.ID)
}

// switchRoom points the session at room, detaching it from a finished one.
func (g *Gateway) switchRoom(s *Session, room *game.Room) {
	if prev := s.room; prev != nil && prev != room {
		prev.Leave(s.ID)
	}
	s.room = room
	s.log = s.log.WithField("room", room.ID)
}
