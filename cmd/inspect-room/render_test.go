package main

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/icco/numduel"
)

func startedRoom(now time.Time) *numduel.Room {
	started := now.Add(-10 * time.Second)
	r := &numduel.Room{
		Code:          "123456",
		Started:       true,
		ActivePlayer:  numduel.PlayerOne,
		TurnStartedAt: &started,
		TimeLimit:     60,
		BonusSeconds:  5,
		Version:       4,
	}
	r.Seats[0] = numduel.Seat{UserID: "alice", Secret: "1234", Ready: true, TimeRemaining: 60}
	r.Seats[1] = numduel.Seat{UserID: "bob", Secret: "5678", Ready: true, TimeRemaining: 55,
		Guesses: []numduel.Guess{{Number: "1243", CorrectDigits: 4, CorrectPositions: 2}}}
	return r
}

func TestRender(t *testing.T) {
	now := time.Now()
	room := startedRoom(now)

	out := render(room, now, false)
	for _, want := range []string{"Room 123456", "playing", "Player 1 to guess", "alice", "bob", "0:50", "0:55", "1243  2/4"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "1234\n") || strings.Contains(out, "5678") {
		t.Errorf("secrets shown mid game:\n%s", out)
	}

	if out := render(room, now, true); !strings.Contains(out, "5678") {
		t.Errorf("show secrets did not show them:\n%s", out)
	}

	room.Winner = numduel.WinnerTwo
	room.ActivePlayer = numduel.NoPlayer
	room.TurnStartedAt = nil
	out = render(room, now, false)
	if !strings.Contains(out, "player 2 wins") || !strings.Contains(out, "5678") {
		t.Errorf("finished room rendered as:\n%s", out)
	}
}

func TestClock(t *testing.T) {
	testCases := map[int]string{
		0:   "0:00",
		5:   "0:05",
		65:  "1:05",
		300: "5:00",
	}
	for in, want := range testCases {
		if got := clock(in); got != want {
			t.Errorf("clock(%d) = %q, want %q", in, got, want)
		}
	}
}

type fakeRooms struct {
	room *numduel.Room
}

func (f fakeRooms) Get(context.Context, string) (*numduel.Room, error) {
	if f.room == nil {
		return nil, numduel.ErrRoomNotFound
	}
	return f.room, nil
}

func TestWatcher(t *testing.T) {
	now := time.Now()
	w := newWatcher(fakeRooms{room: startedRoom(now)}, "123456", false)

	if !strings.Contains(w.View(), "Loading") {
		t.Errorf("unexpected initial view %q", w.View())
	}

	msg := w.fetch()()
	m, _ := w.Update(msg)
	w = m.(watcher)
	if w.room == nil || !strings.Contains(w.View(), "Room 123456") {
		t.Fatalf("room not shown after fetch: %q", w.View())
	}

	m, _ = w.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	w = m.(watcher)
	if !w.showSecrets {
		t.Error("s did not toggle secrets")
	}

	missing := newWatcher(fakeRooms{}, "000000", false)
	m, _ = missing.Update(missing.fetch()())
	if !strings.Contains(m.View(), numduel.ErrRoomNotFound.Error()) {
		t.Errorf("missing room view %q", m.View())
	}
}
