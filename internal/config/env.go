package config

import (
	"errors"
	"os"
	"strings"
)

// Env holds process settings and secrets taken from the environment.
type Env struct {
	HAURL      string
	HAToken    string
	ReadOnly   bool
	AIAPIKey   string
	MQTTBroker string
	HTTPAddr   string
	DBPath     string
	LogLevel   string
	ConfigFile string
}

// LoadEnv reads the environment. Call godotenv.Load first to pick up .env.
func LoadEnv() (Env, error) {
	env := Env{
		HAURL:      os.Getenv("HA_URL"),
		HAToken:    os.Getenv("HA_TOKEN"),
		ReadOnly:   os.Getenv("READ_ONLY") == "true",
		AIAPIKey:   os.Getenv("AI_API_KEY"),
		MQTTBroker: os.Getenv("MQTT_BROKER"),
		HTTPAddr:   getenv("HTTP_ADDR", ":8080"),
		DBPath:     getenv("DB_PATH", "./data/smart_climate.db"),
		LogLevel:   strings.ToLower(getenv("LOG_LEVEL", "info")),
		ConfigFile: getenv("CONFIG_FILE", DefaultPath),
	}
	if env.HAURL == "" || env.HAToken == "" {
		return env, errors.New("HA_URL and HA_TOKEN environment variables must be set")
	}
	return env, nil
}

// Overlay copies environment-provided secrets over the file configuration.
func (e Env) Overlay(c *Config) {
	if e.AIAPIKey != "" {
		c.AIAPIKey = e.AIAPIKey
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
