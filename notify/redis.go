package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel room events travel on.
const DefaultChannel = "numduel:rooms"

// RedisRelay delivers events locally right away and shares them with other
// server instances over redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
}

// NewRedisRelay connects hub to client.
func NewRedisRelay(client *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{
		client:  client,
		hub:     hub,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Publish implements numduel.Notifier. Local subscribers are served even if
// redis is unavailable; the redis error is still returned for logging.
func (r *RedisRelay) Publish(ctx context.Context, code string, version int64) error {
	ev := r.hub.NewEvent(code, version)
	ev.Origin = r.origin
	r.hub.Deliver(ev)

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Run forwards events published by other instances into the hub until ctx
// is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := r.forward(msg.Payload); err != nil {
				log.Warnw("dropping malformed room event", "payload", msg.Payload, "error", err)
			}
		}
	}
}

func (r *RedisRelay) forward(payload string) error {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return err
	}
	if ev.Origin == r.origin {
		return nil
	}
	r.hub.Deliver(ev)
	return nil
}
