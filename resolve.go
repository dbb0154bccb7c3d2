package numduel

import "github.com/samber/lo"

// Outcome is what Resolve decides for a submitted guess.
type Outcome struct {
	Winner Winner
	// Next is the player whose clock starts, NoPlayer once a winner is set.
	Next Player
}

// Resolve decides the result of actor submitting guess in room. The room is
// read as it was before the guess is appended.
//
// Player two always gets the equalizing turn of a round: player one's correct
// guess is only a win once player two has had as many turns and missed, and
// both solving in the same number of turns is a tie.
func Resolve(room *Room, actor Player, guess Guess) Outcome {
	mine := len(room.Seat(actor).Guesses) + 1
	theirs := room.Seat(actor.Other()).Guesses
	opponentSolved := lo.ContainsBy(theirs, Guess.Solved)

	winner := WinnerUnset
	switch actor {
	case PlayerOne:
		if guess.Solved() {
			if len(theirs) >= mine {
				winner = WinnerOne
			}
		} else if opponentSolved {
			winner = WinnerTwo
		}
	case PlayerTwo:
		if guess.Solved() {
			if opponentSolved {
				winner = WinnerTie
			} else {
				winner = WinnerTwo
			}
		} else if opponentSolved {
			winner = WinnerOne
		}
	}

	if winner.Decided() {
		return Outcome{Winner: winner, Next: NoPlayer}
	}
	return Outcome{Winner: WinnerUnset, Next: actor.Other()}
}
