package numduel

import (
	"fmt"
	"regexp"
	"strings"
)

// CodeLength is the number of digits in every secret and guess.
const CodeLength = 4

var (
	guessRegex  = regexp.MustCompile(`^[0-9]{4}$`)
	secretRegex = regexp.MustCompile(`^[1-9]{4}$`)
)

// Score compares guess against secret. correctPositions counts indices that
// match exactly. correctDigits counts every guessed digit that appears
// anywhere in the secret, so a repeated guess digit is counted each time it
// is guessed.
func Score(guess, secret string) Guess {
	g := Guess{Number: guess}
	for i := 0; i < len(guess) && i < len(secret); i++ {
		if guess[i] == secret[i] {
			g.CorrectPositions++
		}
	}
	for i := 0; i < len(guess); i++ {
		if strings.IndexByte(secret, guess[i]) >= 0 {
			g.CorrectDigits++
		}
	}
	return g
}

// ValidateGuess accepts any four digits, zeros and repeats included.
func ValidateGuess(guess string) error {
	if !guessRegex.MatchString(guess) {
		return fmt.Errorf("%w: %q must be exactly %d digits", ErrInvalidGuess, guess, CodeLength)
	}
	return nil
}

// ValidateSecret accepts four distinct digits from 1-9.
func ValidateSecret(secret string) error {
	if !secretRegex.MatchString(secret) {
		return fmt.Errorf("%w: %q must be %d digits from 1 to 9", ErrInvalidSecret, secret, CodeLength)
	}
	seen := map[rune]bool{}
	for _, c := range secret {
		if seen[c] {
			return fmt.Errorf("%w: digit %c is repeated", ErrInvalidSecret, c)
		}
		seen[c] = true
	}
	return nil
}
