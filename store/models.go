package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/icco/numduel"
	"gorm.io/gorm"
)

// GameRoom is one match row.
type GameRoom struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Code string `gorm:"type:varchar(6);uniqueIndex;not null" json:"code"`

	Player1ID            string  `gorm:"type:varchar(128);index" json:"player1_id"`
	Player1Secret        string  `gorm:"type:varchar(4)" json:"-"`
	Player1Ready         bool    `json:"player1_ready"`
	Player1Guesses       Guesses `gorm:"type:text" json:"player1_guesses"`
	Player1TimeRemaining int     `json:"player1_time_remaining"`

	Player2ID            string  `gorm:"type:varchar(128);index" json:"player2_id"`
	Player2Secret        string  `gorm:"type:varchar(4)" json:"-"`
	Player2Ready         bool    `json:"player2_ready"`
	Player2Guesses       Guesses `gorm:"type:text" json:"player2_guesses"`
	Player2TimeRemaining int     `json:"player2_time_remaining"`

	CurrentTurnPlayer int        `json:"current_turn_player"`
	TurnStartedAt     *time.Time `json:"turn_started_at"`
	GameStarted       bool       `gorm:"index" json:"game_started"`
	Winner            string     `gorm:"type:varchar(8)" json:"winner"`
	FinishedAt        *time.Time `json:"finished_at"`
	TimeLimit         int        `json:"time_limit"`
	BonusSeconds      int        `json:"bonus_seconds"`
	Version           int64      `gorm:"not null" json:"version"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PlayerStats is the per-user aggregate fed by finished rooms.
type PlayerStats struct {
	UserID    string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	Games     int       `gorm:"not null" json:"games"`
	Wins      int       `gorm:"not null;index" json:"wins"`
	Losses    int       `gorm:"not null" json:"losses"`
	Ties      int       `gorm:"not null" json:"ties"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is display data copied from the identity provider.
type Profile struct {
	UserID    string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	AvatarURL string    `gorm:"type:varchar(512)" json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutoMigrate runs the database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&GameRoom{}, &PlayerStats{}, &Profile{})
}

// Guesses is stored as a JSON array in a text column.
type Guesses []numduel.Guess

// Value implements driver.Valuer.
func (g Guesses) Value() (driver.Value, error) {
	if g == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]numduel.Guess(g))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (g *Guesses) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*g = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Guesses", src)
	}
	if len(b) == 0 {
		*g = nil
		return nil
	}
	return json.Unmarshal(b, (*[]numduel.Guess)(g))
}

func toRow(r *numduel.Room) *GameRoom {
	p1, p2 := r.Seat(numduel.PlayerOne), r.Seat(numduel.PlayerTwo)
	return &GameRoom{
		Code:                 r.Code,
		Player1ID:            p1.UserID,
		Player1Secret:        p1.Secret,
		Player1Ready:         p1.Ready,
		Player1Guesses:       Guesses(p1.Guesses),
		Player1TimeRemaining: p1.TimeRemaining,
		Player2ID:            p2.UserID,
		Player2Secret:        p2.Secret,
		Player2Ready:         p2.Ready,
		Player2Guesses:       Guesses(p2.Guesses),
		Player2TimeRemaining: p2.TimeRemaining,
		CurrentTurnPlayer:    int(r.ActivePlayer),
		TurnStartedAt:        r.TurnStartedAt,
		GameStarted:          r.Started,
		Winner:               string(r.Winner),
		FinishedAt:           r.FinishedAt,
		TimeLimit:            r.TimeLimit,
		BonusSeconds:         r.BonusSeconds,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func (row *GameRoom) toRoom() *numduel.Room {
	r := &numduel.Room{
		Code:          row.Code,
		ActivePlayer:  numduel.Player(row.CurrentTurnPlayer),
		TurnStartedAt: row.TurnStartedAt,
		Started:       row.GameStarted,
		Winner:        numduel.Winner(row.Winner),
		FinishedAt:    row.FinishedAt,
		TimeLimit:     row.TimeLimit,
		BonusSeconds:  row.BonusSeconds,
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	*r.Seat(numduel.PlayerOne) = numduel.Seat{
		UserID:        row.Player1ID,
		Secret:        row.Player1Secret,
		Ready:         row.Player1Ready,
		Guesses:       []numduel.Guess(row.Player1Guesses),
		TimeRemaining: row.Player1TimeRemaining,
	}
	*r.Seat(numduel.PlayerTwo) = numduel.Seat{
		UserID:        row.Player2ID,
		Secret:        row.Player2Secret,
		Ready:         row.Player2Ready,
		Guesses:       []numduel.Guess(row.Player2Guesses),
		TimeRemaining: row.Player2TimeRemaining,
	}
	return r
}

// assignments is every mutable column of row, for conditioned full-row
// writes. Version is bumped by the database, never taken from the caller.
func (row *GameRoom) assignments() map[string]interface{} {
	return map[string]interface{}{
		"player1_id":             row.Player1ID,
		"player1_secret":         row.Player1Secret,
		"player1_ready":          row.Player1Ready,
		"player1_guesses":        row.Player1Guesses,
		"player1_time_remaining": row.Player1TimeRemaining,
		"player2_id":             row.Player2ID,
		"player2_secret":         row.Player2Secret,
		"player2_ready":          row.Player2Ready,
		"player2_guesses":        row.Player2Guesses,
		"player2_time_remaining": row.Player2TimeRemaining,
		"current_turn_player":    row.CurrentTurnPlayer,
		"turn_started_at":        row.TurnStartedAt,
		"game_started":           row.GameStarted,
		"winner":                 row.Winner,
		"time_limit":             row.TimeLimit,
		"bonus_seconds":          row.BonusSeconds,
		"updated_at":             row.UpdatedAt,
		"version":                gorm.Expr("version + 1"),
	}
}
