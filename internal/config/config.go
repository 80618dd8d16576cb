// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
)

// Config holds the process-level settings. WebSocket tunables live in
// ws.ServerConfig and are overridden per-variable in main.
type Config struct {
	HTTPAddr   string
	WSAddr     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	RedisAddr  string
	NATSURL    string
	NodeName   string
}

// Load reads configuration from the environment, falling back to local
// development defaults.
func Load() *Config {
	node, _ := os.Hostname()
	if node == "" {
		node = "pawmatch-1"
	}

	return &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		WSAddr:     getEnv("WS_ADDR", ":8081"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "pawmatch"),
		DBPassword: getEnv("DB_PASSWORD", "pawmatch_dev_password"),
		DBName:     getEnv("DB_NAME", "pawmatch"),
		RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:    getEnv("NATS_URL", "nats://localhost:4222"),
		NodeName:   getEnv("NODE_NAME", node),
	}
}

// DatabaseURL assembles the Postgres DSN from the DB_* settings.
func (c *Config) DatabaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
