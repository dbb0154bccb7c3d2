package numduel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeLimit is each player's starting clock in seconds.
	DefaultTimeLimit = 300
	// DefaultBonusSeconds is added to a player's clock after each move.
	DefaultBonusSeconds = 5

	// reevaluateAttempts bounds retries for operations whose preconditions
	// are re-checked against the fresh row after a lost race.
	reevaluateAttempts = 3
)

// Service is the room state machine. It holds no room state of its own;
// every operation reads the latest row, computes the next row, and issues one
// conditioned write.
type Service struct {
	store    Store
	notifier Notifier
	stats    StatsRecorder
	now      func() time.Time
	bonus    int
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where change signals go.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithStats sets the recorder told about finished rooms.
func WithStats(r StatsRecorder) Option {
	return func(s *Service) { s.stats = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBonusSeconds sets the per-move increment for new rooms.
func WithBonusSeconds(n int) Option {
	return func(s *Service) { s.bonus = n }
}

// NewService returns a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: nopNotifier{},
		stats:    nopStats{},
		now:      time.Now,
		bonus:    DefaultBonusSeconds,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the current room.
func (s *Service) Get(ctx context.Context, code string) (*Room, error) {
	return s.store.Get(ctx, code)
}

// Create inserts a new room owned by creatorID as player one. A non-positive
// timeLimit uses DefaultTimeLimit. ErrCodeCollision is returned as is so the
// caller can retry with a fresh code.
func (s *Service) Create(ctx context.Context, creatorID string, timeLimit int) (*Room, error) {
	if creatorID == "" {
		return nil, ErrNotAuthorized
	}
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}

	code, err := NewRoomCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	room := &Room{
		Code:         code,
		TimeLimit:    timeLimit,
		BonusSeconds: s.bonus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	room.Seat(PlayerOne).UserID = creatorID
	room.Seat(PlayerOne).TimeRemaining = timeLimit
	room.Seat(PlayerTwo).TimeRemaining = timeLimit

	if err := s.store.Insert(ctx, room); err != nil {
		return nil, err
	}

	log.Infow("room created", "room", code, "user_id", creatorID, "time_limit", timeLimit)
	s.publish(ctx, room)
	return room, nil
}

// Join seats joinerID as player two. Joining a room you already sit in is a
// no-op.
func (s *Service) Join(ctx context.Context, code, joinerID string) (*Room, error) {
	if joinerID == "" {
		return nil, ErrNotAuthorized
	}

	return s.reevaluate(ctx, code, func(r *Room) (*Room, Condition, error) {
		if r.PlayerFor(joinerID) != NoPlayer {
			return nil, Condition{}, nil
		}
		if r.Seat(PlayerTwo).UserID != "" {
			return nil, Condition{}, ErrRoomFull
		}

		next := r.Clone()
		next.Seat(PlayerTwo).UserID = joinerID
		return next, Condition{Version: r.Version, Player2Unset: true}, nil
	})
}

// SetSecret records p's secret and marks p ready. Once both players are ready
// the game is started.
func (s *Service) SetSecret(ctx context.Context, code, userID string, p Player, secret string) (*Room, error) {
	if !p.Valid() {
		return nil, ErrInvalidPlayer
	}
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}

	room, err := s.reevaluate(ctx, code, func(r *Room) (*Room, Condition, error) {
		if err := authorize(r, userID, p); err != nil {
			return nil, Condition{}, err
		}
		seat := r.Seat(p)
		if seat.Ready {
			return nil, Condition{}, ErrSecretAlreadySet
		}

		next := r.Clone()
		next.Seat(p).Secret = secret
		next.Seat(p).Ready = true
		return next, Condition{Version: r.Version, NotStarted: true}, nil
	})
	if err != nil {
		return nil, err
	}

	if !room.BothReady() || room.Started {
		return room, nil
	}

	started, _, err := s.MaybeStart(ctx, code)
	if err != nil {
		// The secret is stored; a later MaybeStart can still start the game.
		log.Errorw("could not start room after secrets set", "room", code, zap.Error(err))
		return room, nil
	}
	return started, nil
}

// MaybeStart starts the game if both players are ready and it has not
// started yet. The bool reports whether this call started it. A caller that
// loses the race gets the already-started room back.
func (s *Service) MaybeStart(ctx context.Context, code string) (*Room, bool, error) {
	r, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, false, err
	}
	if r.Started || !r.BothReady() {
		return r, false, nil
	}

	now := s.now()
	next := r.Clone()
	next.Started = true
	next.ActivePlayer = PlayerOne
	next.TurnStartedAt = &now
	next.UpdatedAt = now

	ok, err := s.store.Update(ctx, next, Condition{Version: r.Version, NotStarted: true})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		log.Debugw("lost start race", "room", code, "version", r.Version)
		latest, err := s.store.Get(ctx, code)
		return latest, false, err
	}

	log.Infow("game started", "room", code, "version", next.Version)
	s.publish(ctx, next)
	return next, true, nil
}

// SubmitGuess scores number against the opponent's secret, settles the
// mover's clock, and resolves the turn. The write is conditioned on the
// observed version and on p still holding the turn; losing either returns
// ErrStaleWrite and nothing is persisted.
func (s *Service) SubmitGuess(ctx context.Context, code, userID string, p Player, number string) (*Room, error) {
	if !p.Valid() {
		return nil, ErrInvalidPlayer
	}
	if err := ValidateGuess(number); err != nil {
		return nil, err
	}

	r, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := authorize(r, userID, p); err != nil {
		return nil, err
	}
	if r.Winner.Decided() {
		return nil, ErrGameOver
	}
	if !r.Started {
		return nil, ErrGameNotStarted
	}
	secret := r.Seat(p.Other()).Secret
	if secret == "" {
		return nil, ErrOpponentSecretNotSet
	}
	if r.ActivePlayer != p || r.TurnStartedAt == nil {
		return nil, fmt.Errorf("%w: it is not player %d's turn", ErrStaleWrite, p)
	}

	now := s.now()
	guess := Score(number, secret)
	outcome := Resolve(r, p, guess)

	next := r.Clone()
	seat := next.Seat(p)
	seat.Guesses = append(seat.Guesses, guess)
	seat.TimeRemaining = SettleTurn(seat.TimeRemaining, *r.TurnStartedAt, now, r.BonusSeconds)
	next.Winner = outcome.Winner
	next.ActivePlayer = outcome.Next
	if outcome.Winner.Decided() {
		next.TurnStartedAt = nil
	} else {
		next.TurnStartedAt = &now
	}
	next.UpdatedAt = now

	cond := Condition{Version: r.Version, ActivePlayer: p, WinnerUnset: true}
	if err := s.commit(ctx, next, cond); err != nil {
		return nil, err
	}

	log.Infow("guess accepted", "room", code, "player", p, "guess", guess.Number,
		"positions", guess.CorrectPositions, "digits", guess.CorrectDigits,
		"winner", next.Winner, "version", next.Version)
	return s.finish(ctx, next), nil
}

// ExpireOnTimeout ends the game in favour of expired's opponent. It only
// applies while expired holds the running clock and no winner is set; any
// other state returns ErrStaleWrite. A clock that has not yet reached zero
// returns ErrClockRunning.
func (s *Service) ExpireOnTimeout(ctx context.Context, code, userID string, expired Player) (*Room, error) {
	if !expired.Valid() {
		return nil, ErrInvalidPlayer
	}

	r, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.PlayerFor(userID) == NoPlayer {
		return nil, ErrNotAuthorized
	}
	if r.Winner.Decided() || r.ActivePlayer != expired {
		return nil, fmt.Errorf("%w: player %d is not on the clock", ErrStaleWrite, expired)
	}
	if left := r.Remaining(expired, s.now()); left > 0 {
		return nil, fmt.Errorf("%w: player %d has %ds", ErrClockRunning, expired, left)
	}

	next := s.stopClocks(r, WinnerFor(expired.Other()))
	cond := Condition{Version: r.Version, ActivePlayer: expired, WinnerUnset: true}
	if err := s.commit(ctx, next, cond); err != nil {
		return nil, err
	}

	log.Infow("player timed out", "room", code, "player", expired, "winner", next.Winner, "version", next.Version)
	return s.finish(ctx, next), nil
}

// Leave handles a player walking away. Before the game starts player one
// leaving deletes the room and player two leaving frees the seat. During the
// game the leaver forfeits. After the game it does nothing. A deleted room
// returns a nil Room.
func (s *Service) Leave(ctx context.Context, code, userID string, p Player) (*Room, error) {
	if !p.Valid() {
		return nil, ErrInvalidPlayer
	}

	r, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := authorize(r, userID, p); err != nil {
		return nil, err
	}

	switch {
	case r.Winner.Decided():
		return r, nil

	case !r.Started && p == PlayerOne:
		cond := Condition{Version: r.Version, NotStarted: true}
		if r.Seat(PlayerTwo).UserID == "" {
			cond.Player2Unset = true
		}
		ok, err := s.store.Delete(ctx, code, cond)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrStaleWrite
		}
		log.Infow("room deleted", "room", code, "user_id", userID)
		s.publish(ctx, &Room{Code: code, Version: r.Version + 1})
		return nil, nil

	case !r.Started && p == PlayerTwo:
		next := r.Clone()
		next.Seats[PlayerTwo-1] = Seat{TimeRemaining: r.TimeLimit}
		next.UpdatedAt = s.now()
		if err := s.commit(ctx, next, Condition{Version: r.Version, NotStarted: true}); err != nil {
			return nil, err
		}
		log.Infow("player two left", "room", code, "user_id", userID, "version", next.Version)
		return next, nil

	default:
		next := s.stopClocks(r, WinnerFor(p.Other()))
		if err := s.commit(ctx, next, Condition{Version: r.Version, WinnerUnset: true}); err != nil {
			return nil, err
		}
		log.Infow("player forfeited", "room", code, "player", p, "winner", next.Winner, "version", next.Version)
		return s.finish(ctx, next), nil
	}
}

// stopClocks returns a copy of r with winner set and the running clock frozen
// at its live value.
func (s *Service) stopClocks(r *Room, winner Winner) *Room {
	now := s.now()
	next := r.Clone()
	if r.ActivePlayer.Valid() {
		next.Seat(r.ActivePlayer).TimeRemaining = r.Remaining(r.ActivePlayer, now)
	}
	next.Winner = winner
	next.ActivePlayer = NoPlayer
	next.TurnStartedAt = nil
	next.UpdatedAt = now
	return next
}

// commit issues one conditioned write and publishes on success.
func (s *Service) commit(ctx context.Context, next *Room, cond Condition) error {
	ok, err := s.store.Update(ctx, next, cond)
	if err != nil {
		return err
	}
	if !ok {
		log.Infow("conditioned write lost", "room", next.Code, "version", cond.Version)
		return ErrStaleWrite
	}
	s.publish(ctx, next)
	return nil
}

// reevaluate runs fn against the freshest row until its write lands, fn
// declines to write, or the attempts run out. fn re-checks its
// preconditions every time, so a lost race caused by an unrelated field is
// retried and one caused by a conflicting change is reported by fn.
func (s *Service) reevaluate(ctx context.Context, code string, fn func(*Room) (*Room, Condition, error)) (*Room, error) {
	for i := 0; i < reevaluateAttempts; i++ {
		r, err := s.store.Get(ctx, code)
		if err != nil {
			return nil, err
		}

		next, cond, err := fn(r)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return r, nil
		}

		next.UpdatedAt = s.now()
		err = s.commit(ctx, next, cond)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return nil, err
		}
	}
	return nil, ErrStaleWrite
}

// finish hands a decided room to the stats recorder and returns the room as
// stored afterwards, since finalizing stamps finished_at and bumps the
// version.
func (s *Service) finish(ctx context.Context, r *Room) *Room {
	if !r.Winner.Decided() {
		return r
	}
	if err := s.stats.FinalizeRoom(ctx, r.Code); err != nil {
		log.Errorw("could not finalize room stats", "room", r.Code, zap.Error(err))
		return r
	}

	latest, err := s.store.Get(ctx, r.Code)
	if err != nil {
		log.Warnw("could not reload finished room", "room", r.Code, zap.Error(err))
		return r
	}
	if latest.Version != r.Version {
		s.publish(ctx, latest)
	}
	return latest
}

func (s *Service) publish(ctx context.Context, r *Room) {
	if err := s.notifier.Publish(ctx, r.Code, r.Version); err != nil {
		log.Errorw("could not publish room change", "room", r.Code, zap.Error(err))
	}
}

func authorize(r *Room, userID string, p Player) error {
	if userID == "" || r.Seat(p).UserID != userID {
		return ErrNotAuthorized
	}
	return nil
}
