package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-pkgz/auth/v2/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/icco/numduel"
	"github.com/icco/numduel/notify"
	"github.com/icco/numduel/store"
	"go.uber.org/zap"
)

func TestHealthCheckHandler(t *testing.T) {
	twoHundreds := map[string]http.HandlerFunc{
		"/healthz": healthCheckHandler,
		"/":        rootHandler,
	}

	for route, handler := range twoHundreds {
		t.Run(route, func(t *testing.T) {
			req, err := http.NewRequest("GET", route, http.NoBody)
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if status := rr.Code; status != http.StatusOK {
				t.Errorf("handler returned wrong status code: got %v want %v",
					status, http.StatusOK)
			}
		})
	}
}

func testOptions() *Options {
	return &Options{
		DatabaseURL:  ":memory:",
		JWTSecret:    "test-secret",
		PublicURL:    "http://localhost:8080",
		TimeLimit:    300,
		Increment:    5,
		ActionRate:   100,
		AbandonAfter: time.Hour,
		Env:          "development",
	}
}

func setupServer(t *testing.T, opts *Options) *server {
	db, err := store.Open(opts.DatabaseURL, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	hub := notify.NewHub()
	return newServer(opts, store.New(db), hub, hub)
}

// stoppedClock swaps in a service whose time only moves when advanced.
func stoppedClock(s *server) func(time.Duration) {
	now := time.Now()
	s.svc = numduel.NewService(s.store,
		numduel.WithNotifier(s.hub),
		numduel.WithStats(finishCounter{store: s.store}),
		numduel.WithBonusSeconds(s.opts.Increment),
		numduel.WithClock(func() time.Time { return now }),
	)
	return func(d time.Duration) { now = now.Add(d) }
}

func tokenFor(t *testing.T, s *server, id, name string) string {
	t.Helper()
	now := time.Now()
	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id,
			Audience:  []string{"numduel"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		User: &token.User{ID: id, Name: name},
	}

	tok, err := s.auth.TokenService().Token(claims)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return tok
}

func call(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func roomFrom(t *testing.T, rr *httptest.ResponseRecorder) RoomView {
	t.Helper()
	var v RoomView
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("could not decode room from %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorFrom(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("could not decode error from %q: %v", rr.Body.String(), err)
	}
	return e
}

func expect(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("got status %d want %d: %s", rr.Code, status, rr.Body.String())
	}
}

func TestRoomFlow(t *testing.T) {
	s := setupServer(t, testOptions())
	h := s.routes()
	alice := tokenFor(t, s, "alice", "Alice")
	bob := tokenFor(t, s, "bob", "Bob")

	rr := call(t, h, "POST", "/rooms", alice, CreateRoomRequest{TimeLimit: 120})
	expect(t, rr, http.StatusCreated)
	room := roomFrom(t, rr)
	if len(room.Code) != 6 {
		t.Fatalf("room code %q is not six digits", room.Code)
	}
	if room.You != numduel.PlayerOne || room.Phase != numduel.PhaseWaitingPlayers {
		t.Errorf("got you=%d phase=%s", room.You, room.Phase)
	}
	if room.Players[0].Name != "Alice" || room.Players[0].TimeRemaining != 120 {
		t.Errorf("unexpected first seat %+v", room.Players[0])
	}
	base := "/rooms/" + room.Code

	rr = call(t, h, "POST", base+"/join", bob, nil)
	expect(t, rr, http.StatusOK)
	if got := roomFrom(t, rr); got.You != numduel.PlayerTwo || got.Phase != numduel.PhaseWaitingSecrets {
		t.Errorf("after join got you=%d phase=%s", got.You, got.Phase)
	}

	expect(t, call(t, h, "POST", base+"/secret", alice, SecretRequest{Player: 1, Secret: "1234"}), http.StatusOK)

	// Bob cannot see Alice's secret.
	rr = call(t, h, "GET", base, bob, nil)
	expect(t, rr, http.StatusOK)
	if got := roomFrom(t, rr); got.Players[0].Secret != "" || !got.Players[0].Ready {
		t.Errorf("bob sees first seat as %+v", got.Players[0])
	}

	rr = call(t, h, "POST", base+"/secret", bob, SecretRequest{Player: 2, Secret: "5678"})
	expect(t, rr, http.StatusOK)
	room = roomFrom(t, rr)
	if room.Phase != numduel.PhasePlaying || room.ActivePlayer != numduel.PlayerOne {
		t.Fatalf("game did not start: phase=%s active=%d", room.Phase, room.ActivePlayer)
	}

	// Starting again is harmless.
	expect(t, call(t, h, "POST", base+"/start", bob, nil), http.StatusOK)

	rr = call(t, h, "POST", base+"/guess", alice, GuessRequest{Player: 1, Guess: "5678"})
	expect(t, rr, http.StatusOK)
	room = roomFrom(t, rr)
	if room.Winner != numduel.WinnerUnset || room.ActivePlayer != numduel.PlayerTwo {
		t.Fatalf("after a solving first guess got winner=%q active=%d", room.Winner, room.ActivePlayer)
	}
	if g := room.Players[0].Guesses; len(g) != 1 || g[0].CorrectPositions != 4 {
		t.Errorf("unexpected guesses %+v", g)
	}

	rr = call(t, h, "POST", base+"/guess", bob, GuessRequest{Player: 2, Guess: "1234"})
	expect(t, rr, http.StatusOK)
	room = roomFrom(t, rr)
	if room.Winner != numduel.WinnerTie || room.Phase != numduel.PhaseFinished {
		t.Fatalf("got winner=%q phase=%s, want a tie", room.Winner, room.Phase)
	}
	if room.Players[0].Secret != "1234" {
		t.Errorf("finished room should reveal secrets, got %q", room.Players[0].Secret)
	}

	rr = call(t, h, "POST", base+"/guess", alice, GuessRequest{Player: 1, Guess: "1111"})
	expect(t, rr, http.StatusConflict)
	if e := errorFrom(t, rr); e.Code != "game_over" {
		t.Errorf("got code %q", e.Code)
	}

	rr = call(t, h, "GET", "/leaderboard", "", nil)
	expect(t, rr, http.StatusOK)
	var standings []store.Standing
	if err := json.Unmarshal(rr.Body.Bytes(), &standings); err != nil {
		t.Fatal(err)
	}
	if len(standings) != 2 {
		t.Fatalf("got %d standings", len(standings))
	}
	for _, st := range standings {
		if st.Ties != 1 || st.Games != 1 {
			t.Errorf("unexpected standing %+v", st)
		}
	}

	rr = call(t, h, "GET", "/me", alice, nil)
	expect(t, rr, http.StatusOK)
	var me MeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &me); err != nil {
		t.Fatal(err)
	}
	if me.ID != "alice" || me.Stats == nil || me.Stats.Ties != 1 {
		t.Errorf("unexpected /me %+v", me)
	}
}

func TestRoomErrors(t *testing.T) {
	s := setupServer(t, testOptions())
	h := s.routes()
	alice := tokenFor(t, s, "alice", "Alice")
	bob := tokenFor(t, s, "bob", "Bob")
	carol := tokenFor(t, s, "carol", "Carol")

	room := roomFrom(t, call(t, h, "POST", "/rooms", alice, nil))
	if room.TimeLimit != 300 {
		t.Errorf("default time limit %d", room.TimeLimit)
	}
	base := "/rooms/" + room.Code

	testCases := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"no token", "GET", base, "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"bad token", "GET", base, "nope", nil, http.StatusUnauthorized, "unauthenticated"},
		{"unknown room", "GET", "/rooms/000000", alice, nil, http.StatusNotFound, "room_not_found"},
		{"guess before opponent", "POST", base + "/guess", alice, GuessRequest{Player: 1, Guess: "1234"}, http.StatusConflict, "game_not_started"},
		{"invalid secret", "POST", base + "/secret", alice, SecretRequest{Player: 1, Secret: "1230"}, http.StatusBadRequest, "invalid_secret"},
		{"repeated digits", "POST", base + "/secret", alice, SecretRequest{Player: 1, Secret: "1123"}, http.StatusBadRequest, "invalid_secret"},
		{"wrong seat", "POST", base + "/secret", carol, SecretRequest{Player: 1, Secret: "1234"}, http.StatusForbidden, "not_authorized"},
		{"bad player", "POST", base + "/leave", alice, PlayerRequest{Player: 3}, http.StatusBadRequest, "invalid_player"},
		{"invalid guess", "POST", base + "/guess", alice, GuessRequest{Player: 1, Guess: "12a4"}, http.StatusBadRequest, "invalid_guess"},
		{"malformed body", "POST", base + "/guess", alice, "not an object", http.StatusBadRequest, "bad_request"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := call(t, h, tc.method, tc.path, tc.token, tc.body)
			expect(t, rr, tc.status)
			if e := errorFrom(t, rr); e.Code != tc.code {
				t.Errorf("got code %q want %q", e.Code, tc.code)
			}
		})
	}

	expect(t, call(t, h, "POST", base+"/join", bob, nil), http.StatusOK)
	rr := call(t, h, "POST", base+"/join", carol, nil)
	expect(t, rr, http.StatusConflict)
	if e := errorFrom(t, rr); e.Code != "room_full" {
		t.Errorf("got code %q want room_full", e.Code)
	}

	rr = call(t, h, "POST", base+"/start", carol, nil)
	expect(t, rr, http.StatusForbidden)
}

func TestLeaveDeletesRoom(t *testing.T) {
	s := setupServer(t, testOptions())
	h := s.routes()
	alice := tokenFor(t, s, "alice", "Alice")

	room := roomFrom(t, call(t, h, "POST", "/rooms", alice, nil))
	base := "/rooms/" + room.Code

	rr := call(t, h, "POST", base+"/leave", alice, PlayerRequest{Player: 1})
	expect(t, rr, http.StatusOK)
	var left LeftResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &left); err != nil {
		t.Fatal(err)
	}
	if !left.Deleted || left.Code != room.Code {
		t.Errorf("unexpected leave response %+v", left)
	}

	expect(t, call(t, h, "GET", base, alice, nil), http.StatusNotFound)
}

func TestForfeitAndTimeout(t *testing.T) {
	s := setupServer(t, testOptions())
	advance := stoppedClock(s)
	h := s.routes()
	alice := tokenFor(t, s, "alice", "Alice")
	bob := tokenFor(t, s, "bob", "Bob")

	start := func() string {
		room := roomFrom(t, call(t, h, "POST", "/rooms", alice, nil))
		base := "/rooms/" + room.Code
		expect(t, call(t, h, "POST", base+"/join", bob, nil), http.StatusOK)
		expect(t, call(t, h, "POST", base+"/secret", alice, SecretRequest{Player: 1, Secret: "1234"}), http.StatusOK)
		expect(t, call(t, h, "POST", base+"/secret", bob, SecretRequest{Player: 2, Secret: "5678"}), http.StatusOK)
		return base
	}

	t.Run("leave forfeits", func(t *testing.T) {
		base := start()
		rr := call(t, h, "POST", base+"/leave", bob, PlayerRequest{Player: 2})
		expect(t, rr, http.StatusOK)
		if got := roomFrom(t, rr); got.Winner != numduel.WinnerOne {
			t.Errorf("got winner %q", got.Winner)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		base := start()

		// Only the player on the clock can time out.
		rr := call(t, h, "POST", base+"/timeout", bob, PlayerRequest{Player: 2})
		expect(t, rr, http.StatusConflict)
		if e := errorFrom(t, rr); e.Code != "stale_write" {
			t.Errorf("got code %q", e.Code)
		}

		// Player one still has time.
		advance(time.Duration(s.opts.TimeLimit-1) * time.Second)
		rr = call(t, h, "POST", base+"/timeout", bob, PlayerRequest{Player: 1})
		expect(t, rr, http.StatusConflict)
		if e := errorFrom(t, rr); e.Code != "clock_running" {
			t.Errorf("got code %q", e.Code)
		}

		advance(time.Second)
		rr = call(t, h, "POST", base+"/timeout", bob, PlayerRequest{Player: 1})
		expect(t, rr, http.StatusOK)
		got := roomFrom(t, rr)
		if got.Winner != numduel.WinnerTwo || got.ActivePlayer != numduel.NoPlayer {
			t.Errorf("got winner %q active %d", got.Winner, got.ActivePlayer)
		}
	})
}

func TestRateLimited(t *testing.T) {
	opts := testOptions()
	opts.ActionRate = 0.001
	s := setupServer(t, opts)
	h := s.routes()
	alice := tokenFor(t, s, "alice", "Alice")

	expect(t, call(t, h, "POST", "/rooms", alice, nil), http.StatusCreated)
	rr := call(t, h, "POST", "/rooms", alice, nil)
	expect(t, rr, http.StatusTooManyRequests)

	// Reads are not limited.
	expect(t, call(t, h, "GET", "/rooms/000000", alice, nil), http.StatusNotFound)

	if n := s.limiter.prune(time.Now().Add(time.Minute)); n != 1 {
		t.Errorf("pruned %d limiters, want 1", n)
	}
}

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{numduel.ErrInvalidGuess, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", numduel.ErrInvalidSecret), http.StatusBadRequest},
		{numduel.ErrRoomNotFound, http.StatusNotFound},
		{numduel.ErrNotAuthorized, http.StatusForbidden},
		{numduel.ErrStaleWrite, http.StatusConflict},
		{numduel.ErrRoomFull, http.StatusConflict},
		{numduel.ErrOpponentSecretNotSet, http.StatusConflict},
		{numduel.ErrClockRunning, http.StatusConflict},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRoomSocket(t *testing.T) {
	s := setupServer(t, testOptions())
	alice := tokenFor(t, s, "alice", "Alice")

	r := chi.NewRouter()
	r.With(s.authMiddleware).Get("/rooms/{code}/ws", s.roomSocketHandler)
	ts := httptest.NewServer(r)
	defer ts.Close()

	room, err := s.svc.Create(t.Context(), "alice", 60)
	if err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + room.Code + "/ws?token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() SocketMessage {
		t.Helper()
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			t.Fatal(err)
		}
		var msg SocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	msg := read()
	if msg.Type != "room" || msg.Room == nil || msg.Room.You != numduel.PlayerOne {
		t.Fatalf("unexpected first message %+v", msg)
	}

	if _, err := s.svc.Join(t.Context(), room.Code, "bob"); err != nil {
		t.Fatal(err)
	}
	msg = read()
	if msg.Room == nil || msg.Room.Players[1].UserID != "bob" {
		t.Fatalf("expected bob in the pushed room, got %+v", msg)
	}

	if _, err := s.svc.Leave(t.Context(), room.Code, "bob", numduel.PlayerTwo); err != nil {
		t.Fatal(err)
	}
	msg = read()
	if msg.Room == nil || msg.Room.Players[1].UserID != "" {
		t.Fatalf("expected an empty second seat, got %+v", msg)
	}

	if _, err := s.svc.Leave(t.Context(), room.Code, "alice", numduel.PlayerOne); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != "deleted" {
		t.Fatalf("expected a deleted message, got %+v", msg)
	}
}

// joinOnSubscribe seats a second player the moment a socket subscribes.
type joinOnSubscribe struct {
	*notify.Hub
	join func()
}

func (j joinOnSubscribe) Subscribe(code string) (<-chan notify.Event, func()) {
	events, cancel := j.Hub.Subscribe(code)
	j.join()
	return events, cancel
}

func TestRoomSocketSeesCommitDuringSubscribe(t *testing.T) {
	s := setupServer(t, testOptions())
	alice := tokenFor(t, s, "alice", "Alice")

	room, err := s.svc.Create(t.Context(), "alice", 60)
	if err != nil {
		t.Fatal(err)
	}
	s.hub = joinOnSubscribe{
		Hub: s.hub.(*notify.Hub),
		join: func() {
			if _, err := s.svc.Join(t.Context(), room.Code, "bob"); err != nil {
				t.Errorf("join: %v", err)
			}
		},
	}

	r := chi.NewRouter()
	r.With(s.authMiddleware).Get("/rooms/{code}/ws", s.roomSocketHandler)
	ts := httptest.NewServer(r)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + room.Code + "/ws?token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() SocketMessage {
		t.Helper()
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			t.Fatal(err)
		}
		var msg SocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	first := read()
	if first.Room == nil || first.Room.Players[1].UserID != "bob" {
		t.Fatalf("expected bob in the first view, got %+v", first)
	}

	// The join event is already reflected, so the next push is the leave.
	if _, err := s.svc.Leave(t.Context(), room.Code, "bob", numduel.PlayerTwo); err != nil {
		t.Fatal(err)
	}
	msg := read()
	if msg.Room == nil || msg.Room.Players[1].UserID != "" || msg.Room.Version <= first.Room.Version {
		t.Fatalf("expected a newer view with an empty second seat, got %+v", msg)
	}
}
