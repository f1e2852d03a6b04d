// internal/game/player.go
package game

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxNameLength bounds display names, in runes.
const MaxNameLength = 12

// Default names for players who leave the field blank.
const (
	DefaultHostName   = "Host"
	DefaultPlayerName = "Player"
)

// Player is one participant of a room. It is owned by the room and only
// touched with the room's lock held.
type Player struct {
	ConnID         uuid.UUID
	Name           string
	Alive          bool
	RoundsSurvived int
	InputIndex     int  // cursor into the room's sequence for the current round
	FinishedRound  bool // nothing more expected from this player in the current round
	StartTime      time.Time
	EndTime        time.Time
}

// SanitizeName trims name, substitutes fallback when it is empty and cuts it
// to MaxNameLength runes.
func SanitizeName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	return name
}

// eliminate marks the player out for good. endTime is only stamped once.
func (p *Player) eliminate(roundsSurvived int, at time.Time) {
	p.Alive = false
	if roundsSurvived > p.RoundsSurvived {
		p.RoundsSurvived = roundsSurvived
	}
	p.FinishedRound = true
	p.stampEnd(at)
}

func (p *Player) stampEnd(at time.Time) {
	if p.EndTime.IsZero() {
		p.EndTime = at
	}
}

// elapsedSeconds is endTime - startTime, never negative.
func (p *Player) elapsedSeconds() float64 {
	if p.StartTime.IsZero() || p.EndTime.IsZero() {
		return 0
	}
	secs := p.EndTime.Sub(p.StartTime).Seconds()
	if secs < 0 {
		return 0
	}
	return secs
}

// PlayerState is a copy of a Player safe to read without the room lock.
type PlayerState struct {
	ConnID         uuid.UUID
	Name           string
	Alive          bool
	RoundsSurvived int
	InputIndex     int
	FinishedRound  bool
	StartTime      time.Time
	EndTime        time.Time
}

func (p *Player) state() PlayerState {
	return PlayerState{
		ConnID:         p.ConnID,
		Name:           p.Name,
		Alive:          p.Alive,
		RoundsSurvived: p.RoundsSurvived,
		InputIndex:     p.InputIndex,
		FinishedRound:  p.FinishedRound,
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
	}
}
