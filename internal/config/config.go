package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/subosito/gotenv"
)

const DefaultEnvFile = ".env"

type Config struct {
	ClientID          string        `env:"REDDIT_CLIENT_ID,required,notEmpty"`
	RedirectURL       string        `env:"REDDIT_REDIRECT_URI"                envDefault:"http://localhost:8080/callback"`
	UserAgent         string        `env:"REDDIT_USER_AGENT"                  envDefault:"snoosync/1.0"`
	AuthBaseURL       string        `env:"REDDIT_AUTH_BASE_URL"               envDefault:"https://www.reddit.com"`
	APIBaseURL        string        `env:"REDDIT_API_BASE_URL"                envDefault:"https://oauth.reddit.com"`
	Scopes            []string      `env:"REDDIT_SCOPES"                      envDefault:"identity,mysubreddits,read,vote,save"`
	Anonymous         bool          `env:"ANONYMOUS"`
	DeviceID          string        `env:"DEVICE_ID"`
	DBPath            string        `env:"DB_PATH"                            envDefault:"db.sqlite"`
	ScheduleSpec      string        `env:"SCHEDULE_SPEC"                      envDefault:"@every 1m"`
	UpdateConcurrency int           `env:"UPDATE_CONCURRENCY"                 envDefault:"4"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT"                       envDefault:"30s"`
	LogFormat         string        `env:"LOG_FORMAT"                         envDefault:"json"`
	LogLevel          string        `env:"LOG_LEVEL"                          envDefault:"info"`
}

// Load reads envFile into the process environment when it exists and
// parses the configuration. Variables already set take precedence.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.UpdateConcurrency <= 0 {
		return Config{}, fmt.Errorf("UPDATE_CONCURRENCY must be positive: %d", cfg.UpdateConcurrency)
	}

	return cfg, nil
}
