package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort   int
	Env       string
	Version   string
	LogLevel  string
	LogFormat string

	// Terminal I/O bridge (WebSocket). The server binds the first free port
	// in [BridgePortStart, BridgePortEnd] on loopback.
	BridgePortStart int
	BridgePortEnd   int

	// Transports
	DialTimeout time.Duration

	// PTY session queue depths
	PtyInputBuffer  int
	PtyOutputBuffer int

	// Shell used for local terminal tabs (empty = login shell)
	LocalShell string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:         getEnvAsInt("PORT", 9100),
		Env:             getEnv("ENV", "development"),
		Version:         getEnv("VERSION", "0.1.0"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		BridgePortStart: getEnvAsInt("BRIDGE_PORT_START", 9001),
		BridgePortEnd:   getEnvAsInt("BRIDGE_PORT_END", 9010),
		DialTimeout:     getEnvAsDuration("DIAL_TIMEOUT", 10*time.Second),
		PtyInputBuffer:  getEnvAsInt("PTY_INPUT_BUFFER", 256),
		PtyOutputBuffer: getEnvAsInt("PTY_OUTPUT_BUFFER", 256),
		LocalShell:      getEnv("LOCAL_SHELL", ""),
	}

	if cfg.BridgePortEnd < cfg.BridgePortStart {
		cfg.BridgePortEnd = cfg.BridgePortStart
	}

	return cfg, nil
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
