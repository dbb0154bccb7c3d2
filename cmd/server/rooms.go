package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/icco/numduel"
	"github.com/icco/numduel/store"
	"go.uber.org/zap"
)

const createAttempts = 3

// CreateRoomRequest is the optional body of POST /rooms.
type CreateRoomRequest struct {
	TimeLimit int `json:"time_limit" example:"300"`
}

// SecretRequest sets a player's secret.
type SecretRequest struct {
	Player numduel.Player `json:"player" example:"1"`
	Secret string         `json:"secret" example:"1234"`
}

// GuessRequest submits a guess.
type GuessRequest struct {
	Player numduel.Player `json:"player" example:"1"`
	Guess  string         `json:"guess" example:"5678"`
}

// PlayerRequest names the seat an action is for.
type PlayerRequest struct {
	Player numduel.Player `json:"player" example:"1"`
}

// PlayerView is one seat as the viewer may see it.
type PlayerView struct {
	Player        numduel.Player  `json:"player"`
	UserID        string          `json:"user_id,omitempty"`
	Name          string          `json:"name,omitempty"`
	AvatarURL     string          `json:"avatar_url,omitempty"`
	Ready         bool            `json:"ready"`
	Secret        string          `json:"secret,omitempty"`
	Guesses       []numduel.Guess `json:"guesses"`
	TimeRemaining int             `json:"time_remaining"`
	LiveRemaining int             `json:"live_remaining"`
}

// RoomView is a room rendered for one viewer. Live clocks are computed at
// ServerTime.
type RoomView struct {
	Code          string         `json:"code"`
	Phase         numduel.Phase  `json:"phase"`
	You           numduel.Player `json:"you"`
	Players       []PlayerView   `json:"players"`
	ActivePlayer  numduel.Player `json:"active_player"`
	TurnStartedAt *time.Time     `json:"turn_started_at,omitempty"`
	Started       bool           `json:"game_started"`
	Winner        numduel.Winner `json:"winner"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	TimeLimit     int            `json:"time_limit"`
	BonusSeconds  int            `json:"bonus_seconds"`
	Version       int64          `json:"version"`
	ServerTime    time.Time      `json:"server_time"`
}

// LeftResponse is returned when leaving deleted the room.
type LeftResponse struct {
	Code    string `json:"code"`
	Deleted bool   `json:"deleted"`
}

func (s *server) view(ctx context.Context, room *numduel.Room, viewerID string) RoomView {
	now := time.Now()
	you := room.PlayerFor(viewerID)
	shown := room.ViewFor(you)

	profiles, err := s.store.Profiles(ctx, shown.Seats[0].UserID, shown.Seats[1].UserID)
	if err != nil {
		log.Errorw("could not load profiles", "room", room.Code, zap.Error(err))
		profiles = map[string]store.Profile{}
	}

	v := RoomView{
		Code:          shown.Code,
		Phase:         shown.Phase(),
		You:           you,
		ActivePlayer:  shown.ActivePlayer,
		TurnStartedAt: shown.TurnStartedAt,
		Started:       shown.Started,
		Winner:        shown.Winner,
		FinishedAt:    shown.FinishedAt,
		TimeLimit:     shown.TimeLimit,
		BonusSeconds:  shown.BonusSeconds,
		Version:       shown.Version,
		ServerTime:    now,
	}
	for _, p := range []numduel.Player{numduel.PlayerOne, numduel.PlayerTwo} {
		seat := shown.Seat(p)
		guesses := seat.Guesses
		if guesses == nil {
			guesses = []numduel.Guess{}
		}
		v.Players = append(v.Players, PlayerView{
			Player:        p,
			UserID:        seat.UserID,
			Name:          profiles[seat.UserID].Name,
			AvatarURL:     profiles[seat.UserID].AvatarURL,
			Ready:         seat.Ready,
			Secret:        seat.Secret,
			Guesses:       guesses,
			TimeRemaining: seat.TimeRemaining,
			LiveRemaining: shown.Remaining(p, now),
		})
	}
	return v
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, numduel.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, numduel.ErrNotAuthorized):
		return http.StatusForbidden
	}

	switch numduel.Kind(err) {
	case numduel.KindValidation:
		return http.StatusBadRequest
	case numduel.KindContention, numduel.KindPrecondition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

var errorCodes = []struct {
	err  error
	code string
}{
	{numduel.ErrInvalidSecret, "invalid_secret"},
	{numduel.ErrInvalidGuess, "invalid_guess"},
	{numduel.ErrInvalidPlayer, "invalid_player"},
	{numduel.ErrStaleWrite, "stale_write"},
	{numduel.ErrCodeCollision, "code_collision"},
	{numduel.ErrRoomNotFound, "room_not_found"},
	{numduel.ErrRoomFull, "room_full"},
	{numduel.ErrOpponentSecretNotSet, "opponent_secret_not_set"},
	{numduel.ErrNotAuthorized, "not_authorized"},
	{numduel.ErrGameNotStarted, "game_not_started"},
	{numduel.ErrGameOver, "game_over"},
	{numduel.ErrSecretAlreadySet, "secret_already_set"},
	{numduel.ErrClockRunning, "clock_running"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Errorw("request failed", "path", r.URL.Path, zap.Error(err))
		msg = "internal error"
	} else {
		log.Infow("request rejected", "path", r.URL.Path, "status", status, "reason", err.Error())
	}

	if err := Renderer.JSON(w, status, ErrorResponse{Error: msg, Code: errorCode(err)}); err != nil {
		log.Errorw("failed to render JSON", zap.Error(err))
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	if err := Renderer.JSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "bad_request"}); err != nil {
		log.Errorw("failed to render JSON", zap.Error(err))
	}
}

func (s *server) renderRoom(w http.ResponseWriter, r *http.Request, status int, room *numduel.Room) {
	user := getMustUserFromContext(r)
	if err := Renderer.JSON(w, status, s.view(r.Context(), room, user.ID)); err != nil {
		log.Errorw("failed to render JSON", zap.Error(err))
	}
}

func roomCode(r *http.Request) string {
	return ugcPolicy.Sanitize(chi.URLParamFromCtx(r.Context(), "code"))
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// @Summary Create a room
// @Description Creates a room with the caller as player one and returns its code
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param room body CreateRoomRequest false "Room configuration"
// @Success 201 {object} RoomView
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /rooms [post]
func (s *server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)

	var req CreateRoomRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.TimeLimit < 0 {
		badRequest(w, "time_limit must be positive")
		return
	}
	if req.TimeLimit == 0 {
		req.TimeLimit = s.opts.TimeLimit
	}

	var (
		room *numduel.Room
		err  error
	)
	for attempt := 1; attempt <= createAttempts; attempt++ {
		room, err = s.svc.Create(r.Context(), user.ID, req.TimeLimit)
		if !errors.Is(err, numduel.ErrCodeCollision) {
			break
		}
		log.Warnw("room code collision", "attempt", attempt)
	}
	recordAction("create", err)
	if err != nil {
		renderError(w, r, err)
		return
	}

	s.renderRoom(w, r, http.StatusCreated, room)
}

// @Summary Get room state
// @Description Returns the room as the caller may see it, with live clocks
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param code path string true "Room code"
// @Success 200 {object} RoomView
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{code} [get]
func (s *server) getRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := s.svc.Get(r.Context(), roomCode(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	s.renderRoom(w, r, http.StatusOK, room)
}

// @Summary Join a room
// @Description Takes the second seat. Joining a room you already sit in is a no-op
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param code path string true "Room code"
// @Success 200 {object} RoomView
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms/{code}/join [post]
func (s *server) joinRoomHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)

	room, err := s.svc.Join(r.Context(), roomCode(r), user.ID)
	recordAction("join", err)
	if err != nil {
		renderError(w, r, err)
		return
	}
	s.renderRoom(w, r, http.StatusOK, room)
}

// @Summary Set secret
// @Description Sets the caller's secret: four digits 1-9, no repeats. The game starts once both are set
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "Room code"
// @Param secret body SecretRequest true "Secret"
// @Success 200 {object} RoomView
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms/{code}/secret [post]
func (s *server) setSecretHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)

	var req SecretRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	room, err := s.svc.SetSecret(r.Context(), roomCode(r), user.ID, req.Player, req.Secret)
	recordAction("secret", err)
	if err != nil {
		renderError(w, r, err)
		return
	}
	s.renderRoom(w, r, http.StatusOK, room)
}

// @Summary Start the game
// @Description Starts the game if both secrets are set. Safe to repeat
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param code path string true "Room code"
// @Success 200 {object} RoomView
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms/{code}/start [post]
func (s *server) startRoomHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)
	code := roomCode(r)

	current, err := s.svc.Get(r.Context(), code)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if current.PlayerFor(user.ID) == numduel.NoPlayer {
		renderError(w, r, numduel.ErrNotAuthorized)
		return
	}

	room, started, err := s.svc.MaybeStart(r.Context(), code)
	recordAction("start", err)
	if err != nil {
		renderError(w, r, err)
		return
	}
	log.Debugw("start requested", "room", code, "started", started)
	s.renderRoom(w, r, http.StatusOK, room)
}

// @Summary Submit a guess
// @Description Scores a guess against the opponent's secret and passes the turn
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "Room code"
// @Param guess body GuessRequest true "Guess"
// @Success 200 {object} RoomView
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms/{code}/guess [post]
func (s *server) guessHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)

	var req GuessRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	room, err := s.svc.SubmitGuess(r.Context(), roomCode(r), user.ID, req.Player, req.Guess)
	recordAction("guess", err)
	if err != nil {
		renderError(w, r, err)
		return
	}
	s.renderRoom(w, r, http.StatusOK, room)
}

// @Summary Report a timeout
// @Description Ends the game when the named player's clock has run out
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "Room code"
// @Param player body PlayerRequest true "Player whose clock expired"
// @Success 200 {object} RoomView
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms/{code}/timeout [post]
func (s *server) timeoutHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)

	var req PlayerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	room, err := s.svc.ExpireOnTimeout(r.Context(), roomCode(r), user.ID, req.Player)
	recordAction("timeout", err)
	if err != nil {
		renderError(w, r, err)
		return
	}
	s.renderRoom(w, r, http.StatusOK, room)
}

// @Summary Leave a room
// @Description Leaves before the start, or forfeits a running game
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param code path string true "Room code"
// @Param player body PlayerRequest true "Leaving player"
// @Success 200 {object} RoomView
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms/{code}/leave [post]
func (s *server) leaveHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)
	code := roomCode(r)

	var req PlayerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	room, err := s.svc.Leave(r.Context(), code, user.ID, req.Player)
	recordAction("leave", err)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if room == nil {
		if err := Renderer.JSON(w, http.StatusOK, LeftResponse{Code: code, Deleted: true}); err != nil {
			log.Errorw("failed to render JSON", zap.Error(err))
		}
		return
	}
	s.renderRoom(w, r, http.StatusOK, room)
}

// @Summary Leaderboard
// @Description Top players by wins
// @Tags stats
// @Produce json
// @Param limit query int false "Rows to return, at most 100"
// @Success 200 {array} store.Standing
// @Router /leaderboard [get]
func (s *server) leaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	standings, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if err := Renderer.JSON(w, http.StatusOK, standings); err != nil {
		log.Errorw("failed to render JSON", zap.Error(err))
	}
}
