package main

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// actionLimiter throttles room mutations per user.
type actionLimiter struct {
	mu    sync.Mutex
	users map[string]*userLimiter
	limit rate.Limit
	burst int
}

type userLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newActionLimiter(perSecond float64) *actionLimiter {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return &actionLimiter{
		users: map[string]*userLimiter{},
		limit: rate.Limit(perSecond),
		burst: burst,
	}
}

func (l *actionLimiter) allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = u
	}
	u.seen = time.Now()
	return u.limiter.Allow()
}

// prune forgets users idle since before cutoff.
func (l *actionLimiter) prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, u := range l.users {
		if u.seen.Before(cutoff) {
			delete(l.users, id)
			n++
		}
	}
	return n
}

// Handler must run after authMiddleware.
func (l *actionLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := getMustUserFromContext(r)
		if !l.allow(user.ID) {
			log.Infow("rate limited", "user_id", user.ID, "path", r.URL.Path)
			if err := Renderer.JSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "slow down", Code: "rate_limited"}); err != nil {
				log.Errorw("failed to render JSON", zap.Error(err))
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
