// Package config loads chat client settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Live transports.
const (
	TransportWS   = "ws"
	TransportNATS = "nats"
)

type Config struct {
	Environment string `validate:"oneof=development production test"`

	APIBaseURL string        `validate:"required,url"`
	APITimeout time.Duration `validate:"gt=0"`

	LiveTransport    string        `validate:"oneof=ws nats"`
	LiveURL          string        `validate:"required_if=LiveTransport ws"`
	NATSURL          string        `validate:"required_if=LiveTransport nats"`
	LiveDialTimeout  time.Duration `validate:"gt=0"`
	LiveJoinTimeout  time.Duration `validate:"gt=0"`
	LivePingInterval time.Duration `validate:"gte=0"`

	// RedisAddr enables the Redis session store and profile cache when set.
	RedisAddr  string
	SessionKey string        `validate:"required_with=RedisAddr"`
	ProfileTTL time.Duration `validate:"gt=0"`

	// Token and UserID are used when no Redis session store is configured.
	Token  string
	UserID string

	Role            string `validate:"oneof=shop customer"`
	RoomPageSize    int    `validate:"min=1,max=100"`
	HistoryPageSize int    `validate:"min=1,max=100"`

	OptimisticSend bool
	SendRate       float64 `validate:"gte=0"`
	SendBurst      int     `validate:"gte=1"`

	MetricsAddr string
}

func Default() Config {
	return Config{
		Environment:      "development",
		APIBaseURL:       "http://localhost:5000",
		APITimeout:       15 * time.Second,
		LiveTransport:    TransportWS,
		LiveURL:          "ws://localhost:5000/chathub",
		LiveDialTimeout:  10 * time.Second,
		LiveJoinTimeout:  5 * time.Second,
		LivePingInterval: 25 * time.Second,
		ProfileTTL:       10 * time.Minute,
		Role:             "customer",
		RoomPageSize:     20,
		HistoryPageSize:  50,
		SendRate:         2,
		SendBurst:        5,
	}
}

// Load reads a .env file if one exists, applies environment overrides on
// top of Default and validates the result.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}

	str("ENVIRONMENT", &c.Environment)
	str("API_BASE_URL", &c.APIBaseURL)
	dur("API_TIMEOUT", &c.APITimeout)
	str("LIVE_TRANSPORT", &c.LiveTransport)
	str("LIVE_URL", &c.LiveURL)
	str("NATS_URL", &c.NATSURL)
	dur("LIVE_DIAL_TIMEOUT", &c.LiveDialTimeout)
	dur("LIVE_JOIN_TIMEOUT", &c.LiveJoinTimeout)
	dur("LIVE_PING_INTERVAL", &c.LivePingInterval)
	str("REDIS_ADDR", &c.RedisAddr)
	str("SESSION_KEY", &c.SessionKey)
	dur("PROFILE_CACHE_TTL", &c.ProfileTTL)
	str("CHAT_TOKEN", &c.Token)
	str("CHAT_USER_ID", &c.UserID)
	str("CHAT_ROLE", &c.Role)
	num("ROOM_PAGE_SIZE", &c.RoomPageSize)
	num("HISTORY_PAGE_SIZE", &c.HistoryPageSize)
	num("SEND_BURST", &c.SendBurst)
	str("METRICS_ADDR", &c.MetricsAddr)

	if v, ok := os.LookupEnv("SEND_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("SEND_RATE: %v", err))
		} else {
			c.SendRate = f
		}
	}
	if v, ok := os.LookupEnv("OPTIMISTIC_SEND"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("OPTIMISTIC_SEND: %v", err))
		} else {
			c.OptimisticSend = b
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
