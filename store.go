package numduel

import "context"

// Condition is the predicate a conditioned write must match. Version is always
// checked; the other fields add predicates when set.
type Condition struct {
	Version int64

	// ActivePlayer, when valid, requires the stored active player to match.
	ActivePlayer Player
	WinnerUnset  bool
	NotStarted   bool
	Player2Unset bool
}

// Store persists rooms. Implementations must apply Update and Delete as a
// single atomic statement conditioned on cond, increment the version
// themselves, and report a false result, not an error, when no row matched.
type Store interface {
	// Insert persists a new room. A taken code returns ErrCodeCollision.
	Insert(ctx context.Context, room *Room) error
	// Get returns the room or ErrRoomNotFound.
	Get(ctx context.Context, code string) (*Room, error)
	// Update writes every field of room when cond holds. On success
	// room.Version is set to the stored version.
	Update(ctx context.Context, room *Room, cond Condition) (bool, error)
	// Delete removes the room when cond holds.
	Delete(ctx context.Context, code string, cond Condition) (bool, error)
}

// Notifier delivers "room changed" signals. Delivery is at least once and
// unordered; receivers re-read the room rather than trusting the signal.
type Notifier interface {
	Publish(ctx context.Context, code string, version int64) error
}

// StatsRecorder is told about every room that reaches a winner. It must be
// idempotent per room.
type StatsRecorder interface {
	FinalizeRoom(ctx context.Context, code string) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, string, int64) error { return nil }

type nopStats struct{}

func (nopStats) FinalizeRoom(context.Context, string) error { return nil }
