package main

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	auth2 "github.com/go-pkgz/auth/v2"
	"github.com/icco/gutil/logging"
	"github.com/icco/numduel"
	"github.com/icco/numduel/cmd/server/docs"
	"github.com/icco/numduel/notify"
	"github.com/icco/numduel/store"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/unrolled/render"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var (
	// Renderer is a renderer for all occasions. These are our preferred default options.
	// See:
	//  - https://github.com/unrolled/render/blob/v1/README.md
	Renderer = render.New(render.Options{
		Charset:                   "UTF-8",
		DisableHTTPErrorRendering: false,
		IndentJSON:                false,
		Funcs:                     []template.FuncMap{},
	})

	log       = logging.Must(logging.NewLogger(numduel.ServiceName))
	ugcPolicy = bluemonday.StrictPolicy()
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Healthy  string `json:"healthy"`
	Revision string `json:"revision,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Branch   string `json:"branch,omitempty"`
}

// server holds everything the handlers share.
type server struct {
	opts    *Options
	svc     *numduel.Service
	store   *store.Store
	hub     roomFeed
	auth    *auth2.Service
	limiter *actionLimiter
}

// @title NumDuel API
// @version 1.0
// @description A two player number guessing duel with chess clocks
// @contact.name API Support
// @contact.url http://github.com/icco/numduel
// @license.name MIT
// @host numduel.app
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token in format: Bearer {token}

func main() {
	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		// go-flags already printed the problem.
		os.Exit(1)
	}
	log.Infow("Starting up", "host", opts.PublicURL, "port", opts.Port, "env", opts.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(opts.DatabaseURL, log.Desugar())
	if err != nil {
		log.Panicw("could not get db", zap.Error(err))
		return
	}
	st := store.New(db)

	provider, err := setupTelemetry()
	if err != nil {
		log.Panicw("could not set up telemetry", zap.Error(err))
		return
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Errorw("telemetry shutdown", zap.Error(err))
		}
	}()

	hub := notify.NewHub()
	var notifier numduel.Notifier = hub
	if opts.RedisURL != "" {
		client, err := notify.NewRedisClient(opts.RedisURL)
		if err != nil {
			log.Panicw("could not parse redis url", zap.Error(err))
			return
		}
		relay := notify.NewRedisRelay(client, hub)
		notifier = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Errorw("redis relay stopped", zap.Error(err))
			}
		}()
	}

	s := newServer(opts, st, hub, notifier)
	go s.sweep(ctx, time.Minute)

	httpServer := &http.Server{
		Addr:           ":" + opts.Port,
		Handler:        s.routes(),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorw("shutdown", zap.Error(err))
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func newServer(opts *Options, st *store.Store, hub *notify.Hub, notifier numduel.Notifier) *server {
	svc := numduel.NewService(st,
		numduel.WithNotifier(notifier),
		numduel.WithStats(finishCounter{store: st}),
		numduel.WithBonusSeconds(opts.Increment),
	)

	return &server{
		opts:    opts,
		svc:     svc,
		store:   st,
		hub:     hub,
		auth:    newAuthService(opts),
		limiter: newActionLimiter(opts.ActionRate),
	}
}

func (s *server) routes() http.Handler {
	isDev := s.opts.IsDev()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(log.Desugar()))

	r.Use(cors.New(cors.Options{
		AllowCredentials:   true,
		OptionsPassthrough: true,
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:     []string{"Link"},
		MaxAge:             300, // Maximum value not ignored by any of major browsers
	}).Handler)

	r.NotFound(notFoundHandler)

	// Stuff that does not ssl redirect
	r.Group(func(r chi.Router) {
		r.Use(secure.New(secure.Options{
			BrowserXssFilter:   true,
			ContentTypeNosniff: true,
			FrameDeny:          true,
			IsDevelopment:      isDev,
		}).Handler)

		r.Get("/healthz", healthCheckHandler)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Group(func(r chi.Router) {
		r.Use(secure.New(secure.Options{
			BrowserXssFilter:     true,
			ContentTypeNosniff:   true,
			FrameDeny:            true,
			HostsProxyHeaders:    []string{"X-Forwarded-Host"},
			IsDevelopment:        isDev,
			SSLProxyHeaders:      map[string]string{"X-Forwarded-Proto": "https"},
			SSLRedirect:          !isDev,
			STSIncludeSubdomains: true,
			STSPreload:           true,
			STSSeconds:           315360000,
		}).Handler)

		r.Get("/", rootHandler)
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL(s.opts.PublicURL+"/swagger/doc.json"),
		))
		r.Get("/leaderboard", s.leaderboardHandler)

		r.Mount("/auth", s.authRoutes())

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/me", s.meHandler)
			r.Get("/rooms/{code}", s.getRoomHandler)
			r.Get("/rooms/{code}/ws", s.roomSocketHandler)

			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Handler)
				r.Post("/rooms", s.createRoomHandler)
				r.Post("/rooms/{code}/join", s.joinRoomHandler)
				r.Post("/rooms/{code}/secret", s.setSecretHandler)
				r.Post("/rooms/{code}/start", s.startRoomHandler)
				r.Post("/rooms/{code}/guess", s.guessHandler)
				r.Post("/rooms/{code}/timeout", s.timeoutHandler)
				r.Post("/rooms/{code}/leave", s.leaveHandler)
			})
		})
	})

	return otelhttp.NewHandler(r, numduel.ServiceName)
}

// sweep deletes rooms nobody ever started and forgets idle rate limiters.
func (s *server) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.store.DeleteAbandoned(ctx, now.Add(-s.opts.AbandonAfter))
			if err != nil {
				log.Errorw("sweep abandoned rooms", zap.Error(err))
			} else if n > 0 {
				log.Infow("swept abandoned rooms", "count", n)
			}
			s.limiter.prune(now.Add(-10 * time.Minute))
		}
	}
}

// @Summary Get API information
// @Description Returns basic API information and available endpoints
// @Tags info
// @Produce html
// @Success 200 {string} string "HTML page with API information"
// @Router / [get]
func rootHandler(w http.ResponseWriter, r *http.Request) {
	endpoints, err := docs.Endpoints()
	if err != nil {
		log.Errorw("failed to parse swagger.json", zap.Error(err))
		writeStaticHomePage(w)
		return
	}

	html := `
<html>
  <head>
    <title>NumDuel API</title>
    <style>
      body { font-family: Arial, sans-serif; max-width: 800px; margin: 40px auto; padding: 20px; }
      h1 { color: #333; }
      .endpoint { margin: 20px 0; padding: 15px; border-left: 4px solid #007acc; background: #f8f9fa; }
      .method { font-weight: bold; color: #007acc; text-transform: uppercase; }
      .path { font-family: monospace; color: #333; margin: 5px 0; }
      .description { color: #666; margin: 5px 0; }
      .tag { background: #e1ecf4; color: #39739d; padding: 2px 6px; border-radius: 3px; font-size: 0.8em; margin-right: 5px; }
      a { color: #007acc; text-decoration: none; }
    </style>
  </head>
  <body>
    <h1>NumDuel API</h1>
    <p>Two players, two secret numbers, two clocks.</p>
    <p><a href="/swagger/">View Swagger Documentation</a></p>

    <h2>Available Endpoints</h2>`

	for _, e := range endpoints {
		html += fmt.Sprintf(`
    <div class="endpoint">
      <div class="method">%s</div>
      <div class="path">%s</div>
      <div class="description">%s</div>
      <div>`, e.Method, e.Path, template.HTMLEscapeString(e.Description))

		for _, tag := range e.Tags {
			html += fmt.Sprintf(`<span class="tag">%s</span>`, tag)
		}

		html += `</div>
    </div>`
	}

	html += `
  </body>
</html>`

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(html)); err != nil {
		log.Errorw("failed to write response", zap.Error(err))
	}
}

func writeStaticHomePage(w http.ResponseWriter) {
	html := `
<html>
  <head>
    <title>NumDuel API</title>
  </head>
  <body>
    <h1>NumDuel API</h1>
    <p><a href="/swagger/">View Swagger Documentation</a></p>
    <ul>
      <li>POST /rooms - Create a room</li>
      <li>GET /rooms/{code} - Get room state</li>
      <li>POST /rooms/{code}/guess - Guess the opponent's number</li>
      <li>GET /healthz - Health check</li>
    </ul>
  </body>
</html>`

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(html)); err != nil {
		log.Errorw("failed to write response", zap.Error(err))
	}
}

// @Summary Health check
// @Description Returns service health status
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := Renderer.JSON(w, http.StatusOK, HealthResponse{
		Healthy:  "true",
		Revision: os.Getenv("GIT_REVISION"),
		Tag:      os.Getenv("GIT_TAG"),
		Branch:   os.Getenv("GIT_BRANCH"),
	}); err != nil {
		log.Errorw("failed to render JSON", zap.Error(err))
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	if err := Renderer.JSON(w, http.StatusNotFound, ErrorResponse{
		Error: "404: This page could not be found",
		Code:  "not_found",
	}); err != nil {
		log.Errorw("failed to render JSON", zap.Error(err))
	}
}
