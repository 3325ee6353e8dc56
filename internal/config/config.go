package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool
	MigrationPath string

	// TimeUnit is the wall-clock length of one ETA unit.
	TimeUnit time.Duration
	// TrackWindow overrides the map travel time of a ride; zero derives it
	// from the ride track.
	TrackWindow time.Duration

	MapMinLat, MapMaxLat float64
	MapMinLon, MapMaxLon float64
	MapWidth, MapHeight  float64

	RosterFile string
	LogLevel   string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "trip-events",
		MigrationPath:   "migrations/001_create_trips.sql",
		TimeUnit:        time.Second,
		MapMinLat:       16.4,
		MapMaxLat:       16.6,
		MapMinLon:       80.5,
		MapMaxLon:       80.8,
		MapWidth:        600,
		MapHeight:       400,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.MigrationPath, "MIGRATION_PATH")

	setDurationFromEnv(&cfg.TimeUnit, "TIME_UNIT", &errs)
	setDurationFromEnv(&cfg.TrackWindow, "TRACK_WINDOW", &errs)

	setFloatFromEnv(&cfg.MapMinLat, "MAP_MIN_LAT", &errs)
	setFloatFromEnv(&cfg.MapMaxLat, "MAP_MAX_LAT", &errs)
	setFloatFromEnv(&cfg.MapMinLon, "MAP_MIN_LON", &errs)
	setFloatFromEnv(&cfg.MapMaxLon, "MAP_MAX_LON", &errs)
	setFloatFromEnv(&cfg.MapWidth, "MAP_WIDTH", &errs)
	setFloatFromEnv(&cfg.MapHeight, "MAP_HEIGHT", &errs)

	setStringFromEnv(&cfg.RosterFile, "ROSTER_FILE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.TimeUnit <= 0 {
		errs = append(errs, fmt.Errorf("TIME_UNIT must be > 0"))
	}
	if cfg.TrackWindow < 0 {
		errs = append(errs, fmt.Errorf("TRACK_WINDOW must be >= 0"))
	}
	if cfg.MapMinLat >= cfg.MapMaxLat || cfg.MapMinLon >= cfg.MapMaxLon {
		errs = append(errs, fmt.Errorf("map bounds must have min < max"))
	}
	if cfg.MapWidth <= 0 || cfg.MapHeight <= 0 {
		errs = append(errs, fmt.Errorf("map frame must be positive"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the trip-event projector.
type ConsumerConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	StatusTTL    time.Duration
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "trip-events",
		KafkaGroup:   "trip-status-projector",
		RedisAddr:    "localhost:6379",
		StatusTTL:    24 * time.Hour,
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setDurationFromEnv(&cfg.StatusTTL, "STATUS_TTL", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
