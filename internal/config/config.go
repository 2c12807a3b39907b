package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// NewYorkLoc is the exchange timezone used for the regular-trading-hours window.
var NewYorkLoc = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}()

// Config holds all tweakable application parameters.
// Values are loaded from environment variables or set to sensible defaults.
type Config struct {
	LogLevel      string // Environment: CORE_LOG_LEVEL
	MaxLogSizeMB  int64  // Environment: CORE_MAX_LOG_SIZE_MB
	MaxLogBackups int    // Environment: CORE_MAX_LOG_BACKUPS

	StoreBaseURL string // Environment: STORE_BASE_URL
	StoreAPIKey  string // Environment: STORE_API_KEY

	AlpacaKeyID     string // Environment: APCA_API_KEY_ID
	AlpacaSecretKey string // Environment: APCA_API_SECRET_KEY
	AlpacaBaseURL   string // Environment: APCA_API_BASE_URL

	LoopIntervalSeconds float64 // Environment: LOOP_INTERVAL_SECONDS

	RTHOptionsStart string // Environment: RTH_OPTIONS_START, "HH:MM" in America/New_York
	RTHOptionsEnd   string // Environment: RTH_OPTIONS_END, "HH:MM" in America/New_York

	SoftFailMaxAttempts    int     // Environment: SOFT_FAIL_MAX_ATTEMPTS
	SoftFailBackoffSeconds float64 // Environment: SOFT_FAIL_BACKOFF_SECONDS

	MetricsAddr string // Environment: METRICS_ADDR
}

// Load initializes the configuration.
// It reads .env, checks required secrets, and populates the Config struct.
func Load() *Config {
	// Load .env variables into the process environment without overwriting existing env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	// 1. Validation: Fatal check for required secrets
	requiredSecretVars := map[string]bool{
		"APCA_API_KEY_ID":     true,
		"APCA_API_SECRET_KEY": true,
		"APCA_API_BASE_URL":   true,
		"STORE_BASE_URL":      true,
	}

	var missing []string
	for key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	// 2. Print variables explicitly defined in the local .env file (for debugging)
	envMap, err := godotenv.Read()
	if err == nil {
		log.Println("--- .env File Variables ---")
		for key, val := range envMap {
			if requiredSecretVars[key] || key == "STORE_API_KEY" {
				// Mask secret values (last 4 chars visible)
				masked := "***"
				if len(val) > 4 {
					masked = "***" + val[len(val)-4:]
				}
				log.Printf("%s=%s", key, masked)
			} else {
				log.Printf("%s=%s", key, val)
			}
		}
		log.Println("---------------------------")
	}

	cfg := &Config{
		LogLevel:      getEnv("CORE_LOG_LEVEL", "INFO"),
		MaxLogSizeMB:  getEnvAsInt64("CORE_MAX_LOG_SIZE_MB", 5),
		MaxLogBackups: getEnvAsInt("CORE_MAX_LOG_BACKUPS", 3),

		StoreBaseURL: os.Getenv("STORE_BASE_URL"),
		StoreAPIKey:  os.Getenv("STORE_API_KEY"),

		AlpacaKeyID:     os.Getenv("APCA_API_KEY_ID"),
		AlpacaSecretKey: os.Getenv("APCA_API_SECRET_KEY"),
		AlpacaBaseURL:   os.Getenv("APCA_API_BASE_URL"),

		LoopIntervalSeconds: getEnvAsFloat64("LOOP_INTERVAL_SECONDS", 1.0),

		RTHOptionsStart: getEnv("RTH_OPTIONS_START", "09:46"),
		RTHOptionsEnd:   getEnv("RTH_OPTIONS_END", "15:59"),

		SoftFailMaxAttempts:    getEnvAsInt("SOFT_FAIL_MAX_ATTEMPTS", 5),
		SoftFailBackoffSeconds: getEnvAsFloat64("SOFT_FAIL_BACKOFF_SECONDS", 2.0),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}

	log.Printf("Configuration Loaded: LogLevel=%s, LoopInterval=%.1fs, RTH=%s-%s, SoftFailMaxAttempts=%d",
		cfg.LogLevel, cfg.LoopIntervalSeconds, cfg.RTHOptionsStart, cfg.RTHOptionsEnd, cfg.SoftFailMaxAttempts)

	return cfg
}

// Helper to get string env with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper to get int env with default
func getEnvAsInt(key string, fallback int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return parseInt(valueStr, fallback)
}

func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return parseInt64(valueStr, fallback)
}

func parseInt(s string, fallback int) int {
	val, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("Warning: Invalid int for config %s, using default %d", s, fallback)
		return fallback
	}
	return val
}

func parseInt64(s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Printf("Warning: Invalid int64 for config %s, using default %d", s, fallback)
		return fallback
	}
	return val
}
