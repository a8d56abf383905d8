package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	LogLevel        string
	MaxParticipants int // upper bound accepted at room creation
	RoomTTLMinutes  int // stale in-memory room sweep threshold
}

func Load() Config {
	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MaxParticipants: getEnvInt("MAX_PARTICIPANTS_LIMIT", 10),
		RoomTTLMinutes:  getEnvInt("ROOM_TTL_MINUTES", 60),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
