package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Environment string
	ServerPort  int
	LogLevel    string

	CORSAllowedOrigins []string

	// Postgres data store
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	DBSSLMode string

	// Optional Redis backing for the tenant cache
	RedisURL string

	// External identity provider
	ProviderURL    string
	ProviderAPIKey string

	JWTSecret   string
	AdminEmails []string

	AuthCacheTTL time.Duration

	// Tiered response cache
	L1Capacity int
	L1TTL      time.Duration
	L2Capacity int
	L2TTL      time.Duration

	// Access gate protecting the data store
	GateMaxConcurrent    int
	GateFailureThreshold int
	GateBreakerTimeout   time.Duration
	GateAdmissionWait    time.Duration
	GateStaleAfter       time.Duration

	RateLimitPerMinute int
	SweepInterval      time.Duration
}

// Load reads configuration from the environment, with a local .env file
// applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	authCacheTTL, err := parseSeconds("AUTH_CACHE_TTL_SECONDS", 1800)
	if err != nil {
		return nil, err
	}

	l1Capacity, err := strconv.Atoi(getEnv("L1_CACHE_CAPACITY", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid L1_CACHE_CAPACITY: %w", err)
	}
	l1TTL, err := parseSeconds("L1_CACHE_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	l2Capacity, err := strconv.Atoi(getEnv("L2_CACHE_CAPACITY", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid L2_CACHE_CAPACITY: %w", err)
	}
	l2TTL, err := parseSeconds("L2_CACHE_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	gateMax, err := strconv.Atoi(getEnv("GATE_MAX_CONCURRENT", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATE_MAX_CONCURRENT: %w", err)
	}
	gateThreshold, err := strconv.Atoi(getEnv("GATE_FAILURE_THRESHOLD", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATE_FAILURE_THRESHOLD: %w", err)
	}
	gateTimeout, err := parseSeconds("GATE_BREAKER_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	gateWaitMS, err := strconv.Atoi(getEnv("GATE_ADMISSION_WAIT_MS", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATE_ADMISSION_WAIT_MS: %w", err)
	}
	gateStale, err := parseSeconds("GATE_STALE_AFTER_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_MINUTE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
	}
	sweepInterval, err := parseSeconds("SWEEP_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
		}),
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               dbPort,
		DBUser:               getEnv("DB_USER", "propertyflow"),
		DBPass:               getEnv("DB_PASSWORD", "dev"),
		DBName:               getEnv("DB_NAME", "propertyflow"),
		DBSSLMode:            getEnv("DB_SSLMODE", "disable"),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379"),
		ProviderURL:          getEnv("IDENTITY_PROVIDER_URL", ""),
		ProviderAPIKey:       getEnv("IDENTITY_PROVIDER_API_KEY", ""),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		AdminEmails:          parseCSVEnv("ADMIN_EMAILS", nil),
		AuthCacheTTL:         authCacheTTL,
		L1Capacity:           l1Capacity,
		L1TTL:                l1TTL,
		L2Capacity:           l2Capacity,
		L2TTL:                l2TTL,
		GateMaxConcurrent:    gateMax,
		GateFailureThreshold: gateThreshold,
		GateBreakerTimeout:   gateTimeout,
		GateAdmissionWait:    time.Duration(gateWaitMS) * time.Millisecond,
		GateStaleAfter:       gateStale,
		RateLimitPerMinute:   rateLimit,
		SweepInterval:        sweepInterval,
	}, nil
}

func parseSeconds(key string, defaultValue int) (time.Duration, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(v) * time.Second, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
