package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"restdispatch/internal/shared/logs"
)

// RetryUnlimited is the RetryLimit value meaning "retry forever".
const RetryUnlimited = -1

type Config struct {
	APIHost        string
	APIVersion     int
	RetryLimit     int
	RequestTimeout time.Duration
	Proxy          string
	DispatchMode   string
	Debug          bool
	RestTimeOffset time.Duration
	GlobalRPS      float64
	BurstWorkers   int
	UserAgent      string
	Locale         string

	Token         string
	Bot           bool
	SessionCookie string

	RedisURL        string
	RedisRetryCount int
	RedisRetryDelay time.Duration
	CookieKey       string
	CookieSnapshot  time.Duration

	NATSURL        string
	NATSRetryCount int
	NATSRetryDelay time.Duration
	RelayWorkers   int

	MetricsAddr string
}

func LoadConfig() Config {
	return Config{
		APIHost:        getEnv("API_HOST", "https://discord.com"),
		APIVersion:     getEnvInt("API_VERSION", 9),
		RetryLimit:     parseRetryLimit(getEnv("RETRY_LIMIT", "infinite")),
		RequestTimeout: getEnvMillis("REQUEST_TIMEOUT_MS", 15000),
		Proxy:          getEnv("PROXY", ""),
		DispatchMode:   strings.ToLower(getEnv("DISPATCH_MODE", "sequential")),
		Debug:          getEnvBool("DEBUG", false),
		RestTimeOffset: getEnvMillis("REST_TIME_OFFSET_MS", 500),
		GlobalRPS:      getEnvFloat("GLOBAL_RPS", 50),
		BurstWorkers:   getEnvInt("BURST_WORKERS", 32),
		UserAgent:      getEnv("USER_AGENT", ""),
		Locale:         getEnv("LOCALE", "en-US"),

		Token:         getEnv("TOKEN", ""),
		Bot:           getEnvBool("BOT", false),
		SessionCookie: getEnv("SESSION_COOKIE", ""),

		RedisURL:        getEnv("REDIS_URL", ""),
		RedisRetryCount: getEnvInt("REDIS_RETRY_COUNT", 5),
		RedisRetryDelay: time.Duration(getEnvInt("REDIS_RETRY_DELAY", 5)) * time.Second,
		CookieKey:       getEnv("COOKIE_KEY", "rest:cookies"),
		CookieSnapshot:  time.Duration(getEnvInt("COOKIE_SNAPSHOT_SECONDS", 60)) * time.Second,

		NATSURL:        getEnv("NATS_URL", ""),
		NATSRetryCount: getEnvInt("NATS_RETRY_COUNT", 5),
		NATSRetryDelay: time.Duration(getEnvInt("NATS_RETRY_DELAY", 5)) * time.Second,
		RelayWorkers:   getEnvInt("RELAY_WORKERS", 16),

		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}
}

// DefaultRetryLimit applies when RETRY_LIMIT is unset or invalid.
const DefaultRetryLimit = RetryUnlimited

// parseRetryLimit accepts a non-negative integer, or -1 / "infinite" / "unlimited".
// Anything else is reported and replaced by DefaultRetryLimit.
func parseRetryLimit(v string) int {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return DefaultRetryLimit
	case "infinite", "infinity", "unlimited", "-1":
		return RetryUnlimited
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		logs.Warn("invalid RETRY_LIMIT, using default",
			"value", v,
			"default", DefaultRetryLimit)
		return DefaultRetryLimit
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}
