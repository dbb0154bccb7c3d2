package main

import (
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options configures the server. Every option can come from the environment
// or a .env file.
type Options struct {
	Port         string        `long:"port" env:"PORT" default:"8080" description:"Port to listen on"`
	DatabaseURL  string        `long:"database-url" env:"DATABASE_URL" default:"numduel.db" description:"Postgres URL or sqlite path"`
	RedisURL     string        `long:"redis-url" env:"REDIS_URL" description:"Redis URL for sharing room events between instances"`
	JWTSecret    string        `long:"jwt-secret" env:"AUTH_JWT_SECRET" required:"true" description:"Secret for signing auth tokens"`
	PublicURL    string        `long:"public-url" env:"PUBLIC_URL" default:"https://numduel.app" description:"Public base URL"`
	TimeLimit    int           `long:"time-limit" env:"TIME_LIMIT_SECONDS" default:"300" description:"Default seconds on each clock"`
	Increment    int           `long:"increment" env:"INCREMENT_SECONDS" default:"5" description:"Seconds added after each move"`
	ActionRate   float64       `long:"action-rate" env:"ACTION_RATE" default:"5" description:"Room actions per second per user"`
	AbandonAfter time.Duration `long:"abandon-after" env:"ABANDON_AFTER" default:"1h" description:"Delete rooms that never started after this long"`
	Env          string        `long:"env" env:"NAT_ENV" default:"development" description:"production enables SSL redirects"`
}

// IsDev reports whether we are running outside production.
func (o *Options) IsDev() bool {
	return o.Env != "production"
}

func loadOptions(args []string) (*Options, error) {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	var opts Options
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return nil, err
	}
	return &opts, nil
}
