// internal/game/room_store.go
package game

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

const (
	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	roomIDLength   = 6
	roomIDAttempts = 10
)

// RoomStore keeps every live room in memory and enforces that at most one of
// them is an open lobby at any moment.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[string]*Room

	out  Broadcaster
	opts RoomOptions
}

// NewRoomStore returns an empty store. Every room it creates publishes
// through out and is configured from opts.
func NewRoomStore(out Broadcaster, opts RoomOptions) *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
		out:   out,
		opts:  opts.withDefaults(),
	}
}

// CreateRoom makes hostID the host of a brand new lobby. The existence check
// and the insert happen under the store lock, so two concurrent hosts can
// never both succeed.
func (s *RoomStore) CreateRoom(hostID uuid.UUID, hostName, difficulty string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLobbyLocked() != nil {
		return nil, ErrLobbyActive
	}

	id, err := s.newRoomIDLocked()
	if err != nil {
		return nil, err
	}

	room := newRoom(id, hostID, difficulty, s.out, s.opts)
	room.OnDestroy = s.DeleteRoom
	s.rooms[id] = room
	room.open(hostName)
	return room, nil
}

// FindActiveLobby returns the open lobby, or nil.
func (s *RoomStore) FindActiveLobby() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLobbyLocked()
}

func (s *RoomStore) activeLobbyLocked() *Room {
	for _, r := range s.rooms {
		if r.IsActiveLobby() {
			return r
		}
	}
	return nil
}

// GetRoom retrieves a room if it exists.
func (s *RoomStore) GetRoom(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// DeleteRoom forgets the room. Rooms call this themselves once destroyed.
func (s *RoomStore) DeleteRoom(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

// Len is the number of rooms still held.
func (s *RoomStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// CloseAll destroys every room, used on shutdown.
func (s *RoomStore) CloseAll() {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	// Close fires OnDestroy, which takes s.mu again.
	for _, r := range rooms {
		r.Close()
	}
}

func (s *RoomStore) newRoomIDLocked() (string, error) {
	for i := 0; i < roomIDAttempts; i++ {
		id, err := randomRoomID()
		if err != nil {
			return "", err
		}
		if _, taken := s.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a room id after %d attempts", roomIDAttempts)
}

func randomRoomID() (string, error) {
	limit := big.NewInt(int64(len(roomIDAlphabet)))
	b := make([]byte, roomIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generating room id: %w", err)
		}
		b[i] = roomIDAlphabet[n.Int64()]
	}
	return string(b), nil
}
