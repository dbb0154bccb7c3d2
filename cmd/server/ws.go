package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/icco/numduel"
	"github.com/icco/numduel/notify"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// roomFeed publishes room changes and lets sockets follow them.
type roomFeed interface {
	numduel.Notifier
	Subscribe(code string) (<-chan notify.Event, func())
}

// SocketMessage is pushed to room subscribers. Room is nil once the room is
// gone.
type SocketMessage struct {
	Type string    `json:"type"`
	Room *RoomView `json:"room,omitempty"`
}

// @Summary Room updates
// @Description Upgrades to a websocket that pushes the room view on every change
// @Tags rooms
// @Security BearerAuth
// @Param code path string true "Room code"
// @Param token query string false "Bearer token for clients that cannot set headers"
// @Success 101 {object} SocketMessage
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{code}/ws [get]
func (s *server) roomSocketHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)
	code := roomCode(r)

	// Subscribe before the first read so no commit lands unseen in between.
	events, cancel := s.hub.Subscribe(code)
	defer cancel()

	room, err := s.svc.Get(r.Context(), code)
	if err != nil {
		renderError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "room", code, zap.Error(err))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg SocketMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debugw("websocket write failed", "room", code, zap.Error(err))
			return false
		}
		return true
	}

	v := s.view(r.Context(), room, user.ID)
	if !send(SocketMessage{Type: "room", Room: &v}) {
		return
	}
	lastVersion := room.Version

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-closed:
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			room, err := s.svc.Get(ctx, code)
			if errors.Is(err, numduel.ErrRoomNotFound) {
				send(SocketMessage{Type: "deleted"})
				return
			}
			if err != nil {
				log.Errorw("could not reload room", "room", code, "event", ev.ID, zap.Error(err))
				continue
			}
			// Signals can repeat or arrive late; only push newer rows.
			if room.Version <= lastVersion {
				continue
			}
			lastVersion = room.Version

			v := s.view(ctx, room, user.ID)
			if !send(SocketMessage{Type: "room", Room: &v}) {
				return
			}
		}
	}
}
