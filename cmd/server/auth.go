package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	auth2 "github.com/go-pkgz/auth/v2"
	"github.com/go-pkgz/auth/v2/avatar"
	"github.com/go-pkgz/auth/v2/token"
	"github.com/icco/numduel/store"
	"go.uber.org/zap"
)

type contextKey string

const (
	userContextKey contextKey = "user"

	issuer = "numduel-app"
)

// Identity is the authenticated caller, taken from token claims.
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// MeResponse is returned by /me.
type MeResponse struct {
	Identity
	Stats *store.PlayerStats `json:"stats,omitempty"`
}

func newAuthService(opts *Options) *auth2.Service {
	secret := opts.JWTSecret

	service := auth2.NewService(auth2.Opts{
		SecretReader:  token.SecretFunc(func(aud string) (string, error) { return secret, nil }),
		TokenDuration: 24 * time.Hour,
		Issuer:        issuer,
		URL:           opts.PublicURL,
		DisableXSRF:   true, // for API only
		AvatarStore:   avatar.NewNoOp(),
	})

	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	googleClientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if googleClientID != "" && googleClientSecret != "" {
		service.AddProvider("google", googleClientID, googleClientSecret)
	}

	return service
}

func (s *server) authRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Throttle(5))

	authHandler, _ := s.auth.Handlers()
	r.Mount("/", authHandler)
	return r
}

// bearer pulls the token from the Authorization header, or from the token
// query parameter for browser websockets that cannot set headers.
func bearer(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer "), nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", fmt.Errorf("missing or invalid authorization header")
}

func (s *server) currentIdentity(r *http.Request) (*Identity, error) {
	tokenString, err := bearer(r)
	if err != nil {
		return nil, err
	}

	claims, err := s.auth.TokenService().Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.User == nil || claims.User.ID == "" {
		return nil, fmt.Errorf("token has no user")
	}

	return &Identity{
		ID:        claims.User.ID,
		Name:      claims.User.Name,
		AvatarURL: claims.User.Picture,
	}, nil
}

// authMiddleware rejects requests without a valid token and keeps the
// caller's display profile current.
func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentIdentity(r)
		if err != nil {
			log.Infow("authentication failed", "path", r.URL.Path, zap.Error(err))
			if err := Renderer.JSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required", Code: "unauthenticated"}); err != nil {
				log.Errorw("failed to render JSON", zap.Error(err))
			}
			return
		}

		if err := s.store.UpsertProfile(r.Context(), &store.Profile{
			UserID:    user.ID,
			Name:      user.Name,
			AvatarURL: user.AvatarURL,
		}); err != nil {
			log.Errorw("could not save profile", "user_id", user.ID, zap.Error(err))
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getUserFromContext(r *http.Request) *Identity {
	if user, ok := r.Context().Value(userContextKey).(*Identity); ok && user != nil {
		return user
	}
	return nil
}

// getMustUserFromContext is for routes behind authMiddleware.
func getMustUserFromContext(r *http.Request) *Identity {
	user := getUserFromContext(r)
	if user == nil {
		panic("user is nil in protected route - auth middleware failed")
	}
	return user
}

// @Summary Current user
// @Description Returns the caller's identity and record
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MeResponse
// @Failure 401 {object} ErrorResponse
// @Router /me [get]
func (s *server) meHandler(w http.ResponseWriter, r *http.Request) {
	user := getMustUserFromContext(r)

	stats, err := s.store.Stats(r.Context(), user.ID)
	if err != nil {
		log.Errorw("could not load stats", "user_id", user.ID, zap.Error(err))
	}

	if err := Renderer.JSON(w, http.StatusOK, MeResponse{Identity: *user, Stats: stats}); err != nil {
		log.Errorw("failed to render JSON", zap.Error(err))
	}
}
