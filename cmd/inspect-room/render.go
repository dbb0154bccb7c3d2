package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/icco/numduel"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	seatStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(28)

	activeSeatStyle = seatStyle.
			BorderForeground(lipgloss.Color("170"))

	solvedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

func clock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func renderSeat(room *numduel.Room, p numduel.Player, now time.Time, showSecrets bool) string {
	seat := room.Seat(p)

	var b strings.Builder
	name := seat.UserID
	if name == "" {
		name = dimStyle.Render("(empty)")
	}
	fmt.Fprintf(&b, "Player %d: %s\n", p, name)

	secret := "not set"
	if seat.Ready {
		secret = "****"
		if showSecrets || room.Winner.Decided() {
			secret = seat.Secret
		}
	}
	fmt.Fprintf(&b, "Secret: %s\n", secret)
	fmt.Fprintf(&b, "Clock:  %s\n", clock(room.Remaining(p, now)))

	if len(seat.Guesses) > 0 {
		b.WriteString("\n")
	}
	for i, g := range seat.Guesses {
		line := fmt.Sprintf("%2d. %s  %d/%d", i+1, g.Number, g.CorrectPositions, g.CorrectDigits)
		if g.Solved() {
			line = solvedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	style := seatStyle
	if room.ActivePlayer == p {
		style = activeSeatStyle
	}
	return style.Render(strings.TrimRight(b.String(), "\n"))
}

// render lays out a room for the terminal. Guesses show positions/digits.
func render(room *numduel.Room, now time.Time, showSecrets bool) string {
	header := titleStyle.Render("Room "+room.Code) + "  " + string(room.Phase())

	status := ""
	switch {
	case room.Winner == numduel.WinnerTie:
		status = "Result: tie"
	case room.Winner.Decided():
		status = "Result: player " + string(room.Winner) + " wins"
	case room.ActivePlayer.Valid():
		status = fmt.Sprintf("Player %d to guess", room.ActivePlayer)
	}

	seats := lipgloss.JoinHorizontal(lipgloss.Top,
		renderSeat(room, numduel.PlayerOne, now, showSecrets),
		" ",
		renderSeat(room, numduel.PlayerTwo, now, showSecrets),
	)

	footer := dimStyle.Render(fmt.Sprintf("version %d, +%ds per move, %s per player",
		room.Version, room.BonusSeconds, clock(room.TimeLimit)))

	parts := []string{header}
	if status != "" {
		parts = append(parts, status)
	}
	parts = append(parts, seats, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
