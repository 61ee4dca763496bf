package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MinIterations is the lowest PBKDF2 iteration count the client will derive keys with.
const MinIterations = 100000

// DefaultUIOrigin is the only browser origin trusted when none is configured.
const DefaultUIOrigin = "http://localhost:5173"

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Local      LocalConfig
	JWT        JWTConfig
	API        APIConfig
	Sync       SyncConfig
	Encryption EncryptionConfig
	WebSocket  WebSocketConfig
	CORS       CORSConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

// DatabaseConfig points at the CouchDB instance holding the remote replica.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// LocalConfig describes the on-device replica. An empty Path keeps it in memory.
type LocalConfig struct {
	Path       string
	QuotaBytes int64
}

type JWTConfig struct {
	Secret string
}

// APIConfig guards the local HTTP and websocket surface. An empty Token is
// replaced by a generated one at startup.
type APIConfig struct {
	Token string
}

type SyncConfig struct {
	VisibilityThreshold time.Duration
	RemoteTimeout       time.Duration
}

type EncryptionConfig struct {
	Iterations int
}

type WebSocketConfig struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	MaxClients int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
	JSON  bool
}

func Load() (*Config, error) {
	godotenv.Load()

	threshold, err := getEnvAsDuration("SYNC_VISIBILITY_THRESHOLD", 30*time.Second)
	if err != nil {
		return nil, err
	}

	remoteTimeout, err := getEnvAsDuration("SYNC_REMOTE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	pongWait, err := getEnvAsDuration("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	iterations := getEnvAsInt("ENCRYPTION_ITERATIONS", MinIterations)
	if iterations < MinIterations {
		iterations = MinIterations
	}

	env := getEnv("ENV", "development")

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "7420"),
			Host: getEnv("HOST", "127.0.0.1"),
			Env:  env,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "inkdown_notes"),
		},
		Local: LocalConfig{
			Path:       getEnv("LOCAL_STORE_PATH", "inkdown-notes.db"),
			QuotaBytes: int64(getEnvAsInt("LOCAL_QUOTA_BYTES", 5*1024*1024)),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		},
		API: APIConfig{
			Token: getEnv("API_TOKEN", ""),
		},
		Sync: SyncConfig{
			VisibilityThreshold: threshold,
			RemoteTimeout:       remoteTimeout,
		},
		Encryption: EncryptionConfig{
			Iterations: iterations,
		},
		WebSocket: WebSocketConfig{
			WriteWait:  10 * time.Second,
			PongWait:   pongWait,
			PingPeriod: pongWait * 9 / 10,
			MaxClients: getEnvAsInt("WS_MAX_CLIENTS", 16),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", DefaultUIOrigin),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-API-Token"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  getEnvAsBool("LOG_JSON", env == "production"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
