package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	AutoMigrate bool
	LogLevel    string

	Tenants          []string
	PassInterval     time.Duration
	PassConcurrency  int
	CollectorTimeout time.Duration
	HTTPCollectors   []HTTPCollectorConfig
	RulesFile        string

	CacheSize        int
	LockedCacheTTL   time.Duration
	ObservedCacheTTL time.Duration

	ReviewWindow   time.Duration
	SnoozeDuration time.Duration
	MaxItems       int

	CriticalDamage  int64
	UrgentDamage    int64
	CriticalETADays int
	UrgentETADays   int

	KafkaBrokers []string
	KafkaTopic   string
	S3Bucket     string
	S3Prefix     string
	JWTSecret    string
}

// HTTPCollectorConfig names a remote subsystem serving signals.
type HTTPCollectorConfig struct {
	Name    string
	BaseURL string
}

const (
	defaultAddr             = ":8070"
	defaultPassInterval     = 15 * time.Minute
	defaultPassConcurrency  = 4
	defaultCollectorTimeout = 5 * time.Second
	defaultCacheSize        = 1024
	defaultLockedCacheTTL   = 15 * time.Minute
	defaultObservedCacheTTL = 2 * time.Minute
	defaultReviewWindow     = 7 * 24 * time.Hour
	defaultSnooze           = 24 * time.Hour
	defaultMaxItems         = 7
	defaultCriticalDamage   = 500_000_000
	defaultUrgentDamage     = 100_000_000
	defaultCriticalETADays  = 7
	defaultUrgentETADays    = 14
	defaultKafkaTopic       = "decision-cards"
	defaultS3Prefix         = "priority-engine"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:             getEnv("ENGINE_ADDR", defaultAddr),
		DatabaseURL:      firstNonEmpty(os.Getenv("ENGINE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		AutoMigrate:      getBool("ENGINE_AUTO_MIGRATE", false),
		LogLevel:         getEnv("ENGINE_LOG_LEVEL", "info"),
		Tenants:          parseCSV(os.Getenv("ENGINE_TENANTS")),
		PassInterval:     getDuration("ENGINE_PASS_INTERVAL", defaultPassInterval),
		PassConcurrency:  getInt("ENGINE_PASS_CONCURRENCY", defaultPassConcurrency),
		CollectorTimeout: getDuration("ENGINE_COLLECTOR_TIMEOUT", defaultCollectorTimeout),
		HTTPCollectors:   parseCollectors(os.Getenv("ENGINE_HTTP_COLLECTORS")),
		RulesFile:        os.Getenv("ENGINE_RULES_FILE"),
		CacheSize:        getInt("ENGINE_CACHE_SIZE", defaultCacheSize),
		LockedCacheTTL:   getDuration("ENGINE_CACHE_LOCKED_TTL", defaultLockedCacheTTL),
		ObservedCacheTTL: getDuration("ENGINE_CACHE_OBSERVED_TTL", defaultObservedCacheTTL),
		ReviewWindow:     getDuration("ENGINE_REVIEW_WINDOW", defaultReviewWindow),
		SnoozeDuration:   getDuration("ENGINE_SNOOZE_DURATION", defaultSnooze),
		MaxItems:         getInt("ENGINE_MAX_ITEMS", defaultMaxItems),
		CriticalDamage:   getInt64("ENGINE_CRITICAL_DAMAGE", defaultCriticalDamage),
		UrgentDamage:     getInt64("ENGINE_URGENT_DAMAGE", defaultUrgentDamage),
		CriticalETADays:  getInt("ENGINE_CRITICAL_ETA_DAYS", defaultCriticalETADays),
		UrgentETADays:    getInt("ENGINE_URGENT_ETA_DAYS", defaultUrgentETADays),
		KafkaBrokers:     parseCSV(firstNonEmpty(os.Getenv("ENGINE_KAFKA_BROKERS"), os.Getenv("KAFKA_BROKERS"))),
		KafkaTopic:       getEnv("ENGINE_KAFKA_TOPIC", defaultKafkaTopic),
		S3Bucket:         os.Getenv("ENGINE_S3_BUCKET"),
		S3Prefix:         getEnv("ENGINE_S3_PREFIX", defaultS3Prefix),
		JWTSecret:        os.Getenv("ENGINE_JWT_SECRET"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or ENGINE_DATABASE_URL required")
	}
	if cfg.UrgentDamage > cfg.CriticalDamage {
		return Config{}, fmt.Errorf("ENGINE_URGENT_DAMAGE (%d) exceeds ENGINE_CRITICAL_DAMAGE (%d)", cfg.UrgentDamage, cfg.CriticalDamage)
	}
	if cfg.CriticalETADays > cfg.UrgentETADays {
		return Config{}, fmt.Errorf("ENGINE_CRITICAL_ETA_DAYS (%d) exceeds ENGINE_URGENT_ETA_DAYS (%d)", cfg.CriticalETADays, cfg.UrgentETADays)
	}
	if cfg.PassConcurrency < 1 {
		cfg.PassConcurrency = 1
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseCollectors reads "name=url,name=url". Entries without a URL are skipped.
func parseCollectors(raw string) []HTTPCollectorConfig {
	var out []HTTPCollectorConfig
	for _, chunk := range parseCSV(raw) {
		name, url, ok := strings.Cut(chunk, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			continue
		}
		out = append(out, HTTPCollectorConfig{Name: name, BaseURL: strings.TrimRight(url, "/")})
	}
	return out
}
