package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv overlays .env onto the process environment outside production.
func LoadDotEnv() {
	if strings.EqualFold(os.Getenv("ENV"), "production") {
		return
	}
	if err := godotenv.Overload(".env"); err != nil {
		log.Printf("[Config] no .env loaded, using system environment: %v", err)
		return
	}
	log.Printf("[Config] loaded environment from .env")
}

func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[Warn] %s=%q is not an integer, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
