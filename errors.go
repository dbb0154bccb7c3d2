package numduel

import "errors"

// Validation errors. Rejected before storage is touched.
var (
	ErrInvalidSecret = errors.New("invalid secret")
	ErrInvalidGuess  = errors.New("invalid guess")
	ErrInvalidPlayer = errors.New("invalid player number")
)

// Contention errors. Recoverable by refetching the room.
var (
	// ErrStaleWrite means a conditioned write matched zero rows: another
	// writer got there first or the turn has moved on.
	ErrStaleWrite = errors.New("room changed, refetch and retry")
	// ErrCodeCollision means a new room code was already taken.
	ErrCodeCollision = errors.New("room code already in use")
)

// Precondition errors. Surfaced to the user, never retried automatically.
var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomFull             = errors.New("room is full")
	ErrOpponentSecretNotSet = errors.New("opponent has not set a secret")
	ErrNotAuthorized        = errors.New("not authorized for this seat")
	ErrGameNotStarted       = errors.New("game has not started")
	ErrGameOver             = errors.New("game is over")
	ErrSecretAlreadySet     = errors.New("secret already set")
	ErrClockRunning         = errors.New("player still has time left")
)

// ErrorKind groups errors by how callers should react.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindContention   ErrorKind = "contention"
	KindPrecondition ErrorKind = "precondition"
	KindIntegration  ErrorKind = "integration"
)

// Kind classifies err. Anything unknown is an integration failure.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidSecret), errors.Is(err, ErrInvalidGuess), errors.Is(err, ErrInvalidPlayer):
		return KindValidation
	case IsRetryable(err):
		return KindContention
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrRoomFull),
		errors.Is(err, ErrOpponentSecretNotSet), errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrGameNotStarted), errors.Is(err, ErrGameOver),
		errors.Is(err, ErrSecretAlreadySet), errors.Is(err, ErrClockRunning):
		return KindPrecondition
	}
	return KindIntegration
}

// IsRetryable reports whether refetching and trying again may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleWrite) || errors.Is(err, ErrCodeCollision)
}
