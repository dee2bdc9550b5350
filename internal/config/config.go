package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Storage
	DataDir string

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// CORS for the JSON API; empty disables the headers
	CORSAllowedOrigins []string

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Web Connector session
	SessionUsername string
	SessionPassword string
	CompanyFile     string
	QueryOnConnect  bool

	// Commerce platform
	CommerceStore      string
	CommerceToken      string
	CommerceAPIVersion string
	CommerceLocationID string
	CommerceBaseURL    string
	CommerceTimeout    time.Duration

	// Reconciliation
	SKUFieldPriority  []string
	MaxItemsPerQuery  int
	AdjustmentAccount string
	InboundLookback   time.Duration
	InboundOverlap    time.Duration
	FastPathSources   []string
	OutboundAutoApply bool
	Timezone          string

	// Rate limiting
	RateLimitSpacing        time.Duration
	RateLimitMaxRetries     int
	RateLimitInitialBackoff time.Duration
	RateLimitMaxBackoff     time.Duration

	// Auto sync (inbound timer)
	AutoSyncEnabled        bool
	AutoSyncInterval       time.Duration
	AutoSyncRunImmediately bool
	// AutoSyncSchedule is a cron expression that overrides the interval
	AutoSyncSchedule string

	// Queue lock
	LockBackend         string
	QueueLockPoll       time.Duration
	QueueLockMaxWait    time.Duration
	QueueLockStaleAfter time.Duration

	// Optional MongoDB (audit sink, shared lock)
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		DataDir: getEnv("DATA_DIR", "./data"),

		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 60) * time.Second,

		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", nil),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Session
		SessionUsername: getEnv("QBWC_USERNAME", ""),
		SessionPassword: getEnv("QBWC_PASSWORD", ""),
		CompanyFile:     getEnv("QBWC_COMPANY_FILE", ""),
		QueryOnConnect:  getBoolEnv("QBWC_QUERY_ON_CONNECT", true),

		// Commerce
		CommerceStore:      getEnv("COMMERCE_STORE", ""),
		CommerceToken:      getEnv("COMMERCE_TOKEN", ""),
		CommerceAPIVersion: getEnv("COMMERCE_API_VERSION", "2024-07"),
		CommerceLocationID: getEnv("COMMERCE_LOCATION_ID", ""),
		CommerceBaseURL:    getEnv("COMMERCE_BASE_URL", ""),
		CommerceTimeout:    getDurationEnv("COMMERCE_TIMEOUT_SEC", 30) * time.Second,

		// Reconciliation
		SKUFieldPriority:  getListEnv("SKU_FIELD_PRIORITY", []string{"ManufacturerPartNumber", "BarCodeValue", "Name"}),
		MaxItemsPerQuery:  getIntEnv("MAX_ITEMS_PER_QUERY", 1000),
		AdjustmentAccount: getEnv("ADJUSTMENT_ACCOUNT", "Inventory Adjustments"),
		InboundLookback:   getDurationEnv("INBOUND_LOOKBACK_SEC", 3600) * time.Second,
		InboundOverlap:    getDurationEnv("INBOUND_OVERLAP_SEC", 300) * time.Second,
		FastPathSources:   getListEnv("FAST_PATH_SOURCES", []string{"inbound-sync", "api"}),
		OutboundAutoApply: getBoolEnv("OUTBOUND_AUTO_APPLY", true),
		Timezone:          getEnv("SYNC_TIMEZONE", "Local"),

		// Rate limiting
		RateLimitSpacing:        getDurationEnv("RATE_LIMIT_SPACING_MS", 500) * time.Millisecond,
		RateLimitMaxRetries:     getIntEnv("RATE_LIMIT_MAX_RETRIES", 5),
		RateLimitInitialBackoff: getDurationEnv("RATE_LIMIT_INITIAL_BACKOFF_MS", 1000) * time.Millisecond,
		RateLimitMaxBackoff:     getDurationEnv("RATE_LIMIT_MAX_BACKOFF_MS", 30000) * time.Millisecond,

		// Auto sync
		AutoSyncEnabled:        getBoolEnv("AUTO_SYNC_ENABLED", true),
		AutoSyncInterval:       getDurationEnv("AUTO_SYNC_INTERVAL_SEC", 300) * time.Second,
		AutoSyncRunImmediately: getBoolEnv("AUTO_SYNC_RUN_IMMEDIATELY", false),
		AutoSyncSchedule:       getEnv("AUTO_SYNC_SCHEDULE", ""),

		// Queue lock
		LockBackend:         getEnv("LOCK_BACKEND", "file"),
		QueueLockPoll:       getDurationEnv("QUEUE_LOCK_POLL_MS", 50) * time.Millisecond,
		QueueLockMaxWait:    getDurationEnv("QUEUE_LOCK_MAX_WAIT_MS", 10000) * time.Millisecond,
		QueueLockStaleAfter: getDurationEnv("QUEUE_LOCK_STALE_SEC", 60) * time.Second,

		// MongoDB
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "stocksync"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,
	}
}

// Validate checks the settings every component relies on
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if c.SessionUsername == "" || c.SessionPassword == "" {
		errs = append(errs, errors.New("QBWC_USERNAME and QBWC_PASSWORD are required"))
	}
	if c.CommerceBaseURL == "" && c.CommerceStore == "" {
		errs = append(errs, errors.New("COMMERCE_STORE or COMMERCE_BASE_URL is required"))
	}
	if len(c.SKUFieldPriority) == 0 {
		errs = append(errs, errors.New("SKU_FIELD_PRIORITY must list at least one field"))
	}
	if c.MaxItemsPerQuery < 0 {
		errs = append(errs, fmt.Errorf("MAX_ITEMS_PER_QUERY must be positive, got %d", c.MaxItemsPerQuery))
	}
	if c.AutoSyncEnabled && c.AutoSyncSchedule == "" && c.AutoSyncInterval < time.Second {
		errs = append(errs, fmt.Errorf("AUTO_SYNC_INTERVAL_SEC must be at least 1 second"))
	}
	if c.InboundOverlap < 0 || c.InboundLookback <= 0 {
		errs = append(errs, errors.New("INBOUND_LOOKBACK_SEC must be positive and INBOUND_OVERLAP_SEC not negative"))
	}
	switch c.LockBackend {
	case "file":
	case "mongo":
		if c.MongoURI == "" {
			errs = append(errs, errors.New("LOCK_BACKEND=mongo requires MONGO_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LOCK_BACKEND %q (must be 'file' or 'mongo')", c.LockBackend))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves the time zone used for the daily snapshot window
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SyncSchedule returns the cron spec driving the inbound timer
func (c *Config) SyncSchedule() string {
	if s := strings.TrimSpace(c.AutoSyncSchedule); s != "" {
		return s
	}
	return "@every " + c.AutoSyncInterval.String()
}

// CommerceURL returns the REST base URL for the configured store
func (c *Config) CommerceURL() string {
	if c.CommerceBaseURL != "" {
		return strings.TrimRight(c.CommerceBaseURL, "/")
	}
	store := strings.TrimSuffix(strings.TrimSpace(c.CommerceStore), "/")
	if !strings.Contains(store, ".") {
		store += ".myshopify.com"
	}
	return fmt.Sprintf("https://%s/admin/api/%s", store, c.CommerceAPIVersion)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

// getListEnv parses a comma separated list, dropping blank entries
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
