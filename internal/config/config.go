package config

import (
	"os"
	"strconv"
	"time"
)

// Config 汇总服务运行所需的全部环境变量配置
type Config struct {
	Port          string
	DatabaseURL   string
	SessionSecret string
	RedisURL      string
	LogLevel      string
	LogFormat     string

	// Challenge verification (Turnstile-compatible siteverify endpoint)
	ChallengeSecret    string
	ChallengeVerifyURL string
	ChallengeTimeout   time.Duration

	// Abuse policy
	CooldownWindow     time.Duration
	DuplicateWindow    time.Duration
	DuplicateLookback  int
	BotSignalThreshold int
	BotSignalWindow    time.Duration
	ChallengeDuration  time.Duration
	BotPruneInterval   time.Duration

	MaxContentLength int

	// Notifications
	NotificationRetention       time.Duration
	NotificationCleanupInterval time.Duration
	HeartbeatInterval           time.Duration
}

func Load() Config {
	return Config{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   getenv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=yomu port=5432 sslmode=disable TimeZone=UTC"),
		SessionSecret: getenv("SESSION_SECRET", "secret_key_change_me"),
		RedisURL:      getenv("REDIS_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFormat:     getenv("LOG_FORMAT", "text"),

		ChallengeSecret:    getenv("CHALLENGE_SECRET", ""),
		ChallengeVerifyURL: getenv("CHALLENGE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
		ChallengeTimeout:   getenvDuration("CHALLENGE_TIMEOUT", 5*time.Second),

		CooldownWindow:     getenvDuration("COMMENT_COOLDOWN", 10*time.Second),
		DuplicateWindow:    getenvDuration("COMMENT_DUPLICATE_WINDOW", 30*time.Second),
		DuplicateLookback:  getenvInt("COMMENT_DUPLICATE_LOOKBACK", 12),
		BotSignalThreshold: getenvInt("BOT_SIGNAL_THRESHOLD", 3),
		BotSignalWindow:    getenvDuration("BOT_SIGNAL_WINDOW", 2*time.Minute),
		ChallengeDuration:  getenvDuration("BOT_CHALLENGE_DURATION", 15*time.Minute),
		BotPruneInterval:   getenvDuration("BOT_PRUNE_INTERVAL", time.Minute),

		MaxContentLength: getenvInt("MAX_CONTENT_LENGTH", 5000),

		NotificationRetention:       getenvDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		NotificationCleanupInterval: getenvDuration("NOTIFICATION_CLEANUP_INTERVAL", 48*time.Hour),
		HeartbeatInterval:           getenvDuration("STREAM_HEARTBEAT_INTERVAL", 25*time.Second),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("90s", "15m") or a bare number of seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
