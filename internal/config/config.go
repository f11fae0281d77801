package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the realtime API service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	ChannelBase       string
	ModerationURL     string
	ModerationTimeout time.Duration
	ModerationStrict  bool
	PresenceGrace     time.Duration
	TypingTTL         time.Duration
	HeartbeatTimeout  time.Duration
	MessageMaxLength  int
	HistoryPageSize   int
	SendRateLimit     int
	SendRateWindow    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("KABAR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "KABAR Realtime API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "kabar")
	v.SetDefault("moderation.timeout", "2s")
	v.SetDefault("moderation.strict", false)
	v.SetDefault("presence.grace", "5s")
	v.SetDefault("typing.ttl", "6s")
	v.SetDefault("heartbeat.timeout", "60s")
	v.SetDefault("message.max_length", 4000)
	v.SetDefault("history.page_size", 50)
	v.SetDefault("send.rate_limit", 20)
	v.SetDefault("send.rate_window", "10s")

	presenceGrace, err := parseDuration(v, "presence.grace", 5*time.Second)
	if err != nil {
		return Config{}, err
	}

	typingTTL, err := parseDuration(v, "typing.ttl", 6*time.Second)
	if err != nil {
		return Config{}, err
	}

	heartbeat, err := parseDuration(v, "heartbeat.timeout", 60*time.Second)
	if err != nil {
		return Config{}, err
	}

	moderationTimeout, err := parseDuration(v, "moderation.timeout", 2*time.Second)
	if err != nil {
		return Config{}, err
	}

	rateWindow, err := parseDuration(v, "send.rate_window", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		ChannelBase:       v.GetString("channel.base"),
		ModerationURL:     v.GetString("moderation.url"),
		ModerationTimeout: moderationTimeout,
		ModerationStrict:  v.GetBool("moderation.strict"),
		PresenceGrace:     presenceGrace,
		TypingTTL:         typingTTL,
		HeartbeatTimeout:  heartbeat,
		MessageMaxLength:  v.GetInt("message.max_length"),
		HistoryPageSize:   v.GetInt("history.page_size"),
		SendRateLimit:     v.GetInt("send.rate_limit"),
		SendRateWindow:    rateWindow,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.MessageMaxLength <= 0 {
		cfg.MessageMaxLength = 4000
	}

	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}

	if parsed <= 0 {
		return fallback, nil
	}

	return parsed, nil
}
