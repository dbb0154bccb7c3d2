package numduel

import (
	"fmt"
	"time"
)

// Player is a seat number in a room. Only PlayerOne and PlayerTwo are valid;
// the zero value means "nobody", e.g. no clock is running.
type Player int

const (
	// NoPlayer is used when no player is active.
	NoPlayer Player = 0
	// PlayerOne created the room and always guesses first.
	PlayerOne Player = 1
	// PlayerTwo joined the room and gets the last word in every round.
	PlayerTwo Player = 2
)

// Valid reports whether p names a seat.
func (p Player) Valid() bool {
	return p == PlayerOne || p == PlayerTwo
}

// Other returns the opponent of p.
func (p Player) Other() Player {
	switch p {
	case PlayerOne:
		return PlayerTwo
	case PlayerTwo:
		return PlayerOne
	}
	return NoPlayer
}

// Winner is the terminal result of a room. Once set it never changes.
type Winner string

const (
	WinnerUnset Winner = ""
	WinnerOne   Winner = "1"
	WinnerTwo   Winner = "2"
	WinnerTie   Winner = "tie"
)

// WinnerFor returns the Winner value naming p.
func WinnerFor(p Player) Winner {
	switch p {
	case PlayerOne:
		return WinnerOne
	case PlayerTwo:
		return WinnerTwo
	}
	return WinnerUnset
}

// Decided reports whether the room has a result.
func (w Winner) Decided() bool {
	return w != WinnerUnset
}

// Phase is the coarse lifecycle state of a room, derived from its fields.
type Phase string

const (
	PhaseWaitingPlayers Phase = "waiting_players"
	PhaseWaitingSecrets Phase = "waiting_secrets"
	PhasePlaying        Phase = "playing"
	PhaseFinished       Phase = "finished"
)

// Guess is a scored guess. Immutable once appended to a seat.
type Guess struct {
	Number           string `json:"number"`
	CorrectDigits    int    `json:"correct_digits"`
	CorrectPositions int    `json:"correct_positions"`
}

// Solved reports whether the guess matched the secret exactly.
func (g Guess) Solved() bool {
	return g.CorrectPositions == CodeLength
}

// Seat is everything a room stores about one player.
type Seat struct {
	UserID        string  `json:"user_id"`
	Secret        string  `json:"secret,omitempty"`
	Ready         bool    `json:"ready"`
	Guesses       []Guess `json:"guesses"`
	TimeRemaining int     `json:"time_remaining"`
}

// Room is the value-typed state of one match. Services never share a Room
// between callers; every mutation works on a copy and is persisted through a
// conditioned write.
type Room struct {
	Code string `json:"code"`

	Seats [2]Seat `json:"seats"`

	// ActivePlayer is whose guess is expected and whose clock is running.
	// NoPlayer before the game starts and after a winner is decided.
	ActivePlayer  Player     `json:"active_player"`
	TurnStartedAt *time.Time `json:"turn_started_at,omitempty"`

	Started    bool       `json:"game_started"`
	Winner     Winner     `json:"winner"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	TimeLimit    int `json:"time_limit"`
	BonusSeconds int `json:"bonus_seconds"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Seat returns a pointer to the seat of p. It panics on an invalid player,
// callers validate first.
func (r *Room) Seat(p Player) *Seat {
	if !p.Valid() {
		panic(fmt.Sprintf("numduel: invalid player %d", p))
	}
	return &r.Seats[p-1]
}

// PlayerFor returns the seat held by userID, or NoPlayer.
func (r *Room) PlayerFor(userID string) Player {
	if userID == "" {
		return NoPlayer
	}
	for _, p := range []Player{PlayerOne, PlayerTwo} {
		if r.Seat(p).UserID == userID {
			return p
		}
	}
	return NoPlayer
}

// Phase derives the lifecycle state.
func (r *Room) Phase() Phase {
	switch {
	case r.Winner.Decided():
		return PhaseFinished
	case r.Started:
		return PhasePlaying
	case r.Seat(PlayerTwo).UserID == "":
		return PhaseWaitingPlayers
	default:
		return PhaseWaitingSecrets
	}
}

// BothReady reports whether both secrets are set.
func (r *Room) BothReady() bool {
	return r.Seats[0].Ready && r.Seats[1].Ready
}

// Remaining is the live clock for p at now.
func (r *Room) Remaining(p Player, now time.Time) int {
	return LiveRemaining(r.Seat(p).TimeRemaining, r.TurnStartedAt, r.ActivePlayer == p, r.Winner.Decided(), now)
}

// Clone returns a deep copy safe to mutate.
func (r *Room) Clone() *Room {
	c := *r
	for i := range c.Seats {
		if r.Seats[i].Guesses != nil {
			c.Seats[i].Guesses = append([]Guess(nil), r.Seats[i].Guesses...)
		}
	}
	if r.TurnStartedAt != nil {
		t := *r.TurnStartedAt
		c.TurnStartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// ViewFor returns a copy with the opponent's secret hidden from viewer until
// the room is finished. Spectators (NoPlayer) see neither secret.
func (r *Room) ViewFor(viewer Player) *Room {
	c := r.Clone()
	if c.Winner.Decided() {
		return c
	}
	for _, p := range []Player{PlayerOne, PlayerTwo} {
		if p != viewer {
			c.Seat(p).Secret = ""
		}
	}
	return c
}
