// internal/game/rules.go
package game

import "time"

// Difficulty fixes how fast a room flashes its pattern. It never changes
// after the room is created.
type Difficulty struct {
	Key       string `json:"difficulty"`
	Label     string `json:"difficultyLabel"`
	OnTimeMs  int    `json:"onTime"`  // how long each color stays lit
	OffTimeMs int    `json:"offTime"` // gap before the next color
}

// DefaultDifficulty is used when a client asks for a key we don't know.
const DefaultDifficulty = "easy"

var difficulties = map[string]Difficulty{
	"easy":       {Key: "easy", Label: "Easy", OnTimeMs: 800, OffTimeMs: 400},
	"medium":     {Key: "medium", Label: "Medium", OnTimeMs: 600, OffTimeMs: 300},
	"hard":       {Key: "hard", Label: "Hard", OnTimeMs: 400, OffTimeMs: 200},
	"insane":     {Key: "insane", Label: "Insane", OnTimeMs: 300, OffTimeMs: 150},
	"impossible": {Key: "impossible", Label: "Impossible", OnTimeMs: 220, OffTimeMs: 120},
}

// LookupDifficulty returns the settings for key, falling back to easy.
func LookupDifficulty(key string) Difficulty {
	if d, ok := difficulties[key]; ok {
		return d
	}
	return difficulties[DefaultDifficulty]
}

// StepDuration is the time one symbol of the pattern takes to play back.
func (d Difficulty) StepDuration() time.Duration {
	return time.Duration(d.OnTimeMs+d.OffTimeMs) * time.Millisecond
}

// EndPolicy decides when a round summary also ends the game.
type EndPolicy int

const (
	// EndWhenNoneAlive keeps starting rounds while anyone is still alive,
	// so a lone survivor plays on until they fail or give up.
	EndWhenNoneAlive EndPolicy = iota
	// EndAtLastStanding ends a multi-player game as soon as a single player
	// remains alive after a round.
	EndAtLastStanding
)

func (p EndPolicy) String() string {
	switch p {
	case EndAtLastStanding:
		return "last_standing"
	default:
		return "none_alive"
	}
}

// Timings holds every delay a room schedules.
type Timings struct {
	LobbyDuration  time.Duration // lobby auto-start deadline, measured from creation
	LobbyTick      time.Duration // interval of lobbyUpdate broadcasts
	PreRoundDelay  time.Duration // gameStart -> round 1, covers the client's 3-2-1 countdown
	InputBuffer    time.Duration // added to the playback time before startInputPhase
	NextRoundDelay time.Duration // roundSummary -> next roundStart
	TeardownDelay  time.Duration // gameOver -> room destroyed
}

// DefaultTimings returns the production delays.
func DefaultTimings() Timings {
	return Timings{
		LobbyDuration:  30 * time.Second,
		LobbyTick:      time.Second,
		PreRoundDelay:  3700 * time.Millisecond,
		InputBuffer:    80 * time.Millisecond,
		NextRoundDelay: time.Second,
		TeardownDelay:  time.Second,
	}
}
