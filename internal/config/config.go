package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

type AppConfig struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8000"`
	WSPath     string `env:"WS_PATH" envDefault:"/ws/game/"`

	RedisURL      string `env:"REDIS_URL"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`

	JWTSecret      string   `env:"JWT_SECRET"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	FanoutBackend string `env:"FANOUT_BACKEND" envDefault:"redis"`
	NATSURL       string `env:"NATS_URL"`

	ChatCacheLimit    int    `env:"CHAT_CACHE_LIMIT" envDefault:"1000"`
	ChatPageSize      int    `env:"CHAT_PAGE_SIZE" envDefault:"50"`
	ChatProfileTTLSec int    `env:"CHAT_PROFILE_TTL_SEC" envDefault:"180"`
	GlobalChatRoom    string `env:"GLOBAL_CHAT_ROOM" envDefault:"global"`

	DefaultClockSec int     `env:"DEFAULT_CLOCK_SEC" envDefault:"300"`
	RatingDelta     float64 `env:"RATING_DELTA" envDefault:"20"`
	MaxCASRetries   int     `env:"MAX_CAS_RETRIES" envDefault:"5"`

	MessagesDir string `env:"MESSAGES_DIR"`

	// In-memory store only: "id:username" accounts and session ids created at startup.
	DevUsers    []string `env:"DEV_USERS" envSeparator:","`
	DevSessions []string `env:"DEV_SESSIONS" envSeparator:","`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.WSPath = strings.TrimSpace(cfg.WSPath)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.NATSURL = strings.TrimSpace(cfg.NATSURL)
	cfg.MessagesDir = strings.TrimSpace(cfg.MessagesDir)
	cfg.FanoutBackend = strings.ToLower(strings.TrimSpace(cfg.FanoutBackend))
	cfg.GlobalChatRoom = strings.TrimSpace(cfg.GlobalChatRoom)

	var origins []string
	for _, o := range cfg.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	cfg.AllowedOrigins = origins

	if cfg.ChatCacheLimit <= 0 {
		cfg.ChatCacheLimit = 1000
	}
	if cfg.ChatPageSize <= 0 {
		cfg.ChatPageSize = 50
	}
	if cfg.ChatProfileTTLSec <= 0 {
		cfg.ChatProfileTTLSec = 180
	}
	if cfg.DefaultClockSec <= 0 {
		cfg.DefaultClockSec = 300
	}
	if cfg.MaxCASRetries <= 0 {
		cfg.MaxCASRetries = 5
	}
	if cfg.GlobalChatRoom == "" {
		cfg.GlobalChatRoom = "global"
	}
	if !strings.HasPrefix(cfg.WSPath, "/") {
		cfg.WSPath = "/" + cfg.WSPath
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.FanoutBackend {
	case "redis":
	case "nats":
		if cfg.NATSURL == "" {
			return nil, errors.New("NATS_URL is required when FANOUT_BACKEND=nats")
		}
	default:
		return nil, fmt.Errorf("unknown FANOUT_BACKEND %q", cfg.FanoutBackend)
	}

	return cfg, nil
}

// RedisOptions turns REDIS_URL (redis:// or rediss://, optional /db) into client options.
func RedisOptions(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported redis scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
