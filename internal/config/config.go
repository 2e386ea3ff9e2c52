package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string
}

// Load reads configuration from the environment, with an optional .env
// file in the working directory filling in anything unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{Port: 8080, LogLevel: "info"}

	if portRaw := strings.TrimSpace(os.Getenv("PORT")); portRaw != "" {
		port, err := strconv.Atoi(portRaw)
		if err != nil || port <= 0 {
			return Config{}, fmt.Errorf("invalid PORT: %q", portRaw)
		}
		cfg.Port = port
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required (environment variable or .env)")
	}

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}
