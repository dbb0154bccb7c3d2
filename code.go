package numduel

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	minRoomCode = 100000
	maxRoomCode = 999999
)

// NewRoomCode returns six random digits, uniform over [100000, 999999].
// Uniqueness is left to the store.
func NewRoomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxRoomCode-minRoomCode+1))
	if err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+minRoomCode), nil
}
