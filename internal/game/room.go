// internal/game/room.go
package game

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/simon/internal/models"
	"github.com/jason-s-yu/simon/internal/sequence"
	"github.com/sirupsen/logrus"
)

// Phase is where a room is in its lifecycle. A destroyed room keeps its last
// phase and reports Closed.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
)

// ActionLogger receives every action a room records. Implementations must not
// block; the Redis logger pushes from its own goroutine.
type ActionLogger interface {
	LogAction(action models.RoomAction)
}

// RoomOptions carries everything a room needs from its surroundings.
type RoomOptions struct {
	Timings   Timings
	Policy    EndPolicy
	Generator *sequence.Generator
	Actions   ActionLogger
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

func (o RoomOptions) withDefaults() RoomOptions {
	if o.Timings == (Timings{}) {
		o.Timings = DefaultTimings()
	}
	if o.Generator == nil {
		o.Generator = sequence.NewGenerator(nil)
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Room is one game: a lobby that turns into a match. All state is guarded by
// mu; client requests and timer callbacks both take it, so operations on one
// room never interleave.
type Room struct {
	ID         string
	HostID     uuid.UUID
	Difficulty Difficulty

	// OnDestroy is called once, without the room lock held, after the room
	// has been torn down.
	OnDestroy func(roomID string)

	mu            sync.Mutex
	phase         Phase
	createdAt     time.Time
	lobbyDeadline time.Time
	gameStart     time.Time
	sequence      []sequence.Color
	round         int
	players       []*Player
	over          bool // gameOver has been broadcast
	destroyed     bool
	notified      bool

	tickTimer *time.Timer
	timers    map[*time.Timer]struct{}

	actionIndex int

	out  Broadcaster
	opts RoomOptions
	log  logrus.FieldLogger
}

func newRoom(id string, hostID uuid.UUID, difficulty string, out Broadcaster, opts RoomOptions) *Room {
	opts = opts.withDefaults()
	now := opts.Now()
	return &Room{
		ID:            id,
		HostID:        hostID,
		Difficulty:    LookupDifficulty(difficulty),
		phase:         PhaseLobby,
		createdAt:     now,
		lobbyDeadline: now.Add(opts.Timings.LobbyDuration),
		timers:        make(map[*time.Timer]struct{}),
		out:           out,
		opts:          opts,
		log:           opts.Logger.WithField("room", id),
	}
}

// unlock releases mu and, if this critical section destroyed the room, runs
// OnDestroy afterwards so the callback may take other locks.
func (r *Room) unlock() {
	fire := r.destroyed && !r.notified
	if fire {
		r.notified = true
	}
	cb := r.OnDestroy
	r.mu.Unlock()
	if fire && cb != nil {
		cb(r.ID)
	}
}

// open seats the host, answers them privately and starts the lobby tick.
func (r *Room) open(hostName string) {
	r.mu.Lock()
	defer r.unlock()

	host := &Player{ConnID: r.HostID, Name: SanitizeName(hostName, DefaultHostName)}
	r.players = append(r.players, host)
	r.out.Subscribe(r.ID, host.ConnID)

	r.log.WithFields(logrus.Fields{"host": host.Name, "difficulty": r.Difficulty.Key}).Info("Lobby created")
	r.logAction(host.ConnID, models.ActionRoomCreated, map[string]interface{}{
		"difficulty": r.Difficulty.Key,
		"name":       host.Name,
	})

	r.out.Send(host.ConnID, Event{Type: EventLobbyCreated, Payload: r.joinedPayloadLocked()})
	r.broadcastLobbyUpdateLocked()
	r.scheduleTickLocked()
}

// Join seats a new player while the room is still a lobby.
func (r *Room) Join(connID uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.destroyed {
		return ErrRoomClosed
	}
	if r.phase != PhaseLobby {
		return ErrNotInLobby
	}
	if r.playerLocked(connID) != nil {
		return ErrAlreadyJoined
	}

	p := &Player{ConnID: connID, Name: SanitizeName(name, DefaultPlayerName)}
	r.players = append(r.players, p)
	r.out.Subscribe(r.ID, connID)

	r.log.WithField("player", p.Name).Info("Player joined lobby")
	r.logAction(connID, models.ActionPlayerJoined, map[string]interface{}{"name": p.Name})

	r.out.Send(connID, Event{Type: EventJoinedLobby, Payload: r.joinedPayloadLocked()})
	r.broadcastLobbyUpdateLocked()
	return nil
}

// ForceStart lets the host skip the rest of the lobby countdown.
func (r *Room) ForceStart(connID uuid.UUID) error {
	r.mu.Lock()
	defer r.unlock()

	if r.destroyed {
		return ErrRoomClosed
	}
	if connID != r.HostID {
		return ErrNotHost
	}
	if r.phase != PhaseLobby {
		return ErrNotInLobby
	}
	if len(r.players) == 0 {
		return ErrNoPlayers
	}

	r.log.Info("Host forced an early start")
	r.startGameLocked()
	return nil
}

// SubmitInput checks one color against the player's cursor. Inputs that
// arrive outside a round, from unknown or finished players, are dropped.
func (r *Room) SubmitInput(connID uuid.UUID, color sequence.Color) {
	r.mu.Lock()
	defer r.unlock()

	p := r.activePlayerLocked(connID)
	if p == nil || p.InputIndex >= len(r.sequence) {
		return
	}

	if color != r.sequence[p.InputIndex] {
		// Rounds fully completed before this one.
		r.eliminateLocked(p, r.round-1, models.ActionPlayerEliminated)
		r.out.Send(connID, Event{Type: EventInputResult, Payload: InputResult{Success: false, Message: "Wrong! You're out."}})
		r.evaluateRoundLocked()
		return
	}

	p.InputIndex++
	if p.InputIndex == len(r.sequence) {
		p.FinishedRound = true
		r.out.Send(connID, Event{Type: EventInputResult, Payload: InputResult{Success: true, Message: "Nice! You completed the pattern."}})
		r.evaluateRoundLocked()
		return
	}
	r.out.Send(connID, Event{Type: EventInputResult, Payload: InputResult{Success: true, Message: "Good so far… keep going!"}})
}

// GiveUp eliminates the player voluntarily. A give-up before round 1 starts
// still counts as one round.
func (r *Room) GiveUp(connID uuid.UUID) {
	r.mu.Lock()
	defer r.unlock()

	p := r.activePlayerLocked(connID)
	if p == nil {
		return
	}

	r.eliminateLocked(p, max(r.round, 1), models.ActionPlayerGaveUp)
	r.out.Send(connID, Event{Type: EventInputResult, Payload: InputResult{Success: false, Message: "You gave up."}})
	r.evaluateRoundLocked()
}

// Leave handles a disconnect. In the lobby the player is removed, and the
// room destroyed once empty; during play they are eliminated silently.
func (r *Room) Leave(connID uuid.UUID) {
	r.mu.Lock()
	defer r.unlock()

	if r.destroyed {
		return
	}
	r.out.Unsubscribe(r.ID, connID)

	switch r.phase {
	case PhaseLobby:
		idx := r.playerIndexLocked(connID)
		if idx < 0 {
			return
		}
		p := r.players[idx]
		r.players = append(r.players[:idx], r.players[idx+1:]...)
		r.log.WithField("player", p.Name).Info("Player left lobby")
		r.logAction(connID, models.ActionPlayerLeft, nil)

		if len(r.players) == 0 {
			r.log.Info("Lobby is empty, closing")
			r.destroyLocked()
			return
		}
		r.broadcastLobbyUpdateLocked()

	case PhasePlaying:
		p := r.playerLocked(connID)
		if p == nil || r.over {
			return
		}
		r.logAction(connID, models.ActionPlayerDisconnected, map[string]interface{}{"alive": p.Alive})
		if p.Alive {
			p.Alive = false
			p.FinishedRound = true
			p.stampEnd(r.opts.Now())
			r.log.WithField("player", p.Name).Info("Player disconnected mid-game")
			r.evaluateRoundLocked()
		}
	}
}

// Close tears the room down immediately, e.g. on server shutdown.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.unlock()
	if !r.destroyed {
		r.destroyLocked()
	}
}

// IsActiveLobby reports whether the room still accepts joins: a lobby whose
// deadline has not passed.
func (r *Room) IsActiveLobby() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isActiveLobbyLocked()
}

func (r *Room) isActiveLobbyLocked() bool {
	return !r.destroyed && r.phase == PhaseLobby && r.opts.Now().Before(r.lobbyDeadline)
}

// Finished reports whether the game has ended or the room is gone. A
// connection in a finished room is free to host or join another one.
func (r *Room) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.over || r.destroyed
}

// Closed reports whether the room has been destroyed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// LobbyStatus is the answer to checkActiveLobby for this room.
func (r *Room) LobbyStatus() LobbyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isActiveLobbyLocked() {
		return LobbyStatus{HasActiveLobby: false}
	}
	left := r.timeLeftLocked()
	return LobbyStatus{
		HasActiveLobby:  true,
		Difficulty:      r.Difficulty.Key,
		DifficultyLabel: r.Difficulty.Label,
		TimeLeft:        &left,
	}
}

// RoomState is a read-only copy of a room.
type RoomState struct {
	ID        string
	Phase     Phase
	Round     int
	Sequence  []sequence.Color
	Players   []PlayerState
	GameStart time.Time
	Over      bool
	Closed    bool
}

// State copies the room under its lock.
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := RoomState{
		ID:        r.ID,
		Phase:     r.phase,
		Round:     r.round,
		Sequence:  append([]sequence.Color(nil), r.sequence...),
		Players:   make([]PlayerState, 0, len(r.players)),
		GameStart: r.gameStart,
		Over:      r.over,
		Closed:    r.destroyed,
	}
	for _, p := range r.players {
		st.Players = append(st.Players, p.state())
	}
	return st
}

// --- lobby ---

func (r *Room) scheduleTickLocked() {
	r.tickTimer = r.after(r.opts.Timings.LobbyTick, func() bool { return r.phase == PhaseLobby }, r.lobbyTickLocked)
}

func (r *Room) lobbyTickLocked() {
	if !r.opts.Now().Before(r.lobbyDeadline) {
		r.log.Debug("Lobby countdown elapsed")
		r.startGameLocked()
		return
	}
	r.broadcastLobbyUpdateLocked()
	r.scheduleTickLocked()
}

func (r *Room) timeLeftLocked() int {
	left := int(math.Round(r.lobbyDeadline.Sub(r.opts.Now()).Seconds()))
	return max(left, 0)
}

func (r *Room) joinedPayloadLocked() LobbyJoined {
	return LobbyJoined{RoomID: r.ID, Difficulty: r.Difficulty.Key, DifficultyLabel: r.Difficulty.Label}
}

func (r *Room) broadcastLobbyUpdateLocked() {
	roster := make([]LobbyPlayer, 0, len(r.players))
	for _, p := range r.players {
		roster = append(roster, LobbyPlayer{ID: p.ConnID, Name: p.Name})
	}
	r.out.Broadcast(r.ID, Event{Type: EventLobbyUpdate, Payload: LobbyUpdate{
		RoomID:          r.ID,
		Difficulty:      r.Difficulty.Key,
		DifficultyLabel: r.Difficulty.Label,
		TimeLeft:        r.timeLeftLocked(),
		Players:         roster,
	}})
}

// --- playing ---

func (r *Room) startGameLocked() {
	if r.tickTimer != nil {
		r.cancel(r.tickTimer)
		r.tickTimer = nil
	}

	r.phase = PhasePlaying
	r.round = 0
	r.sequence = r.sequence[:0]
	r.gameStart = r.opts.Now()
	for _, p := range r.players {
		p.Alive = true
		p.RoundsSurvived = 0
		p.InputIndex = 0
		p.FinishedRound = false
		p.StartTime = r.gameStart
		p.EndTime = time.Time{}
	}

	r.log.WithField("players", len(r.players)).Info("Game started")
	r.logAction(uuid.Nil, models.ActionGameStart, map[string]interface{}{"players": len(r.players)})

	r.out.Broadcast(r.ID, Event{Type: EventGameStart, Payload: GameStart{
		Difficulty:      r.Difficulty.Key,
		DifficultyLabel: r.Difficulty.Label,
	}})

	r.after(r.opts.Timings.PreRoundDelay, func() bool { return r.playingLocked() && r.round == 0 }, r.startRoundLocked)
}

func (r *Room) startRoundLocked() {
	r.round++
	r.sequence = append(r.sequence, r.opts.Generator.Next())

	for _, p := range r.players {
		if p.Alive {
			p.InputIndex = 0
			p.FinishedRound = false
		} else {
			p.FinishedRound = true
		}
	}

	r.log.WithField("round", r.round).Debug("Round started")
	r.logAction(uuid.Nil, models.ActionRoundStart, map[string]interface{}{
		"round":    r.round,
		"sequence": append([]sequence.Color(nil), r.sequence...),
	})

	r.out.Broadcast(r.ID, Event{Type: EventRoundStart, Payload: RoundStart{Round: r.round, SequenceLength: len(r.sequence)}})
	r.out.Broadcast(r.ID, Event{Type: EventPlaySequence, Payload: PlaySequence{
		Sequence: append([]sequence.Color(nil), r.sequence...),
		OnTime:   r.Difficulty.OnTimeMs,
		OffTime:  r.Difficulty.OffTimeMs,
	}})

	round := r.round
	playback := time.Duration(len(r.sequence))*r.Difficulty.StepDuration() + r.opts.Timings.InputBuffer
	r.after(playback, func() bool { return r.playingLocked() && r.round == round }, func() {
		r.out.Broadcast(r.ID, Event{Type: EventStartInputPhase, Payload: StartInputPhase{}})
	})
}

func (r *Room) eliminateLocked(p *Player, roundsSurvived int, action string) {
	p.eliminate(roundsSurvived, r.opts.Now())

	r.log.WithFields(logrus.Fields{"player": p.Name, "rounds": p.RoundsSurvived}).Info("Player eliminated")
	r.logAction(p.ConnID, action, map[string]interface{}{"round": r.round, "roundsSurvived": p.RoundsSurvived})

	r.out.Broadcast(r.ID, Event{Type: EventPlayerEliminated, Payload: PlayerEliminated{
		Name:           p.Name,
		RoundsSurvived: p.RoundsSurvived,
	}})
}

// evaluateRoundLocked advances only once every alive player has finished.
func (r *Room) evaluateRoundLocked() {
	alive := 0
	for _, p := range r.players {
		if !p.Alive {
			continue
		}
		if !p.FinishedRound {
			return
		}
		alive++
	}

	for _, p := range r.players {
		if p.Alive && p.RoundsSurvived < r.round {
			p.RoundsSurvived = r.round
		}
	}

	summary := make([]PlayerSummary, 0, len(r.players))
	for _, p := range r.players {
		summary = append(summary, PlayerSummary{ID: p.ConnID, Name: p.Name, Alive: p.Alive, RoundsSurvived: p.RoundsSurvived})
	}
	r.logAction(uuid.Nil, models.ActionRoundSummary, map[string]interface{}{"round": r.round, "alive": alive})
	r.out.Broadcast(r.ID, Event{Type: EventRoundSummary, Payload: RoundSummary{Summary: summary}})

	switch {
	case alive == 0:
		r.endGameLocked()
	case alive == 1 && r.opts.Policy == EndAtLastStanding && len(r.players) > 1:
		r.endGameLocked()
	default:
		round := r.round
		r.after(r.opts.Timings.NextRoundDelay, func() bool { return r.playingLocked() && r.round == round }, r.startRoundLocked)
	}
}

// leaderboardLocked orders players by rounds survived, best first. Ties keep
// join order.
func (r *Room) leaderboardLocked() []LeaderboardEntry {
	ranked := append([]*Player(nil), r.players...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RoundsSurvived > ranked[j].RoundsSurvived
	})
	board := make([]LeaderboardEntry, 0, len(ranked))
	for _, p := range ranked {
		board = append(board, LeaderboardEntry{
			ID:             p.ConnID,
			Name:           p.Name,
			RoundsSurvived: p.RoundsSurvived,
			TimeSeconds:    p.elapsedSeconds(),
		})
	}
	return board
}

func (r *Room) endGameLocked() {
	now := r.opts.Now()
	for _, p := range r.players {
		p.stampEnd(now)
	}
	r.over = true
	r.cancelAll()

	board := r.leaderboardLocked()
	r.log.WithFields(logrus.Fields{"round": r.round, "players": len(board)}).Info("Game over")
	r.logAction(uuid.Nil, models.ActionGameOver, map[string]interface{}{"round": r.round, "leaderboard": board})
	r.out.Broadcast(r.ID, Event{Type: EventGameOver, Payload: GameOver{Leaderboard: board}})

	r.after(r.opts.Timings.TeardownDelay, func() bool { return true }, r.destroyLocked)
}

func (r *Room) destroyLocked() {
	r.destroyed = true
	r.cancelAll()
	for _, p := range r.players {
		r.out.Unsubscribe(r.ID, p.ConnID)
	}
	r.logAction(uuid.Nil, models.ActionRoomClosed, nil)
	r.log.Info("Room closed")
}

// --- helpers, all assume mu is held ---

func (r *Room) playingLocked() bool {
	return r.phase == PhasePlaying && !r.over
}

func (r *Room) playerIndexLocked(connID uuid.UUID) int {
	for i, p := range r.players {
		if p.ConnID == connID {
			return i
		}
	}
	return -1
}

func (r *Room) playerLocked(connID uuid.UUID) *Player {
	if i := r.playerIndexLocked(connID); i >= 0 {
		return r.players[i]
	}
	return nil
}

// activePlayerLocked returns the player if they may still act this round.
func (r *Room) activePlayerLocked(connID uuid.UUID) *Player {
	if r.destroyed || !r.playingLocked() {
		return nil
	}
	p := r.playerLocked(connID)
	if p == nil || !p.Alive || p.FinishedRound {
		return nil
	}
	return p
}

// after schedules fn to run under the room lock once d has elapsed. A
// cancelled timer never runs fn, and neither does one whose valid check fails.
func (r *Room) after(d time.Duration, valid func() bool, fn func()) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.unlock()

		if _, pending := r.timers[t]; !pending {
			return
		}
		delete(r.timers, t)
		if r.destroyed || !valid() {
			r.log.Debug("Stale room timer fired. Ignoring.")
			return
		}
		fn()
	})
	r.timers[t] = struct{}{}
	return t
}

func (r *Room) cancel(t *time.Timer) {
	t.Stop()
	delete(r.timers, t)
}

func (r *Room) cancelAll() {
	for t := range r.timers {
		t.Stop()
	}
	clear(r.timers)
	r.tickTimer = nil
}

func (r *Room) logAction(actor uuid.UUID, actionType string, payload map[string]interface{}) {
	if r.opts.Actions == nil {
		return
	}
	r.actionIndex++
	if payload == nil {
		payload = make(map[string]interface{})
	}
	r.opts.Actions.LogAction(models.RoomAction{
		RoomID:        r.ID,
		RoomCreatedAt: r.createdAt.UnixMilli(),
		ActionIndex:   r.actionIndex,
		ActorConnID:   actor,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     r.opts.Now().UnixMilli(),
	})
}
