package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	API       APIConfig
	WebSocket WebSocketConfig
	Store     StoreConfig
	Tracing   TracingConfig
	DevServer DevServerConfig
}

type AppConfig struct {
	Environment         string
	LogFilePath         string
	RealtimeLogFilePath string
}

type APIConfig struct {
	BaseURL        string // always ends in /api
	RetryCount     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Timeout        time.Duration
}

type WebSocketConfig struct {
	HostOverride         string // empty = derive from API base URL
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
}

type StoreConfig struct {
	Driver    string // "memory" or "redis"
	RedisURL  string
	Namespace string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

type DevServerConfig struct {
	Port      string
	JWTSecret string
	AccessTTL time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Environment:         getEnv("GO_ENV", "development"),
			LogFilePath:         getEnv("LOG_FILE_PATH", "logs/client.log"),
			RealtimeLogFilePath: getEnv("REALTIME_LOG_FILE_PATH", "logs/realtime.log"),
		},
		API: APIConfig{
			BaseURL:        NormalizeAPIBaseURL(getEnv("API_BASE_URL", "http://localhost:3000")),
			RetryCount:     getEnvAsInt("API_RETRY_COUNT", 3),
			RetryBaseDelay: getEnvAsDuration("API_RETRY_BASE_DELAY", 100*time.Millisecond),
			RetryMaxDelay:  getEnvAsDuration("API_RETRY_MAX_DELAY", 2*time.Second),
			Timeout:        getEnvAsDuration("API_TIMEOUT", 30*time.Second),
		},
		WebSocket: WebSocketConfig{
			HostOverride:         getEnv("WS_HOST", ""),
			ReconnectBaseDelay:   getEnvAsDuration("WS_RECONNECT_BASE_DELAY", 3*time.Second),
			MaxReconnectAttempts: getEnvAsInt("WS_MAX_RECONNECT_ATTEMPTS", 10),
			HandshakeTimeout:     getEnvAsDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Driver:    getEnv("TOKEN_STORE", "memory"),
			RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
			Namespace: getEnv("TOKEN_STORE_NAMESPACE", "default"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnv("OTEL_ENABLED", "") == "true",
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "notefiber-client"),
		},
		DevServer: DevServerConfig{
			Port:      getEnv("DEVSERVER_PORT", "3000"),
			JWTSecret: getEnv("JWT_SECRET", "default_secret"),
			AccessTTL: getEnvAsDuration("DEVSERVER_ACCESS_TTL", 15*time.Minute),
		},
	}
}

// NormalizeAPIBaseURL trims trailing slashes and makes sure the path ends in /api.
func NormalizeAPIBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		raw = "http://localhost:3000"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw + "/api"
	}
	if !strings.HasSuffix(u.Path, "/api") {
		u.Path = strings.TrimRight(u.Path, "/") + "/api"
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("250ms", "3s") or plain milliseconds ("3000").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := strings.TrimSpace(getEnv(key, ""))
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
