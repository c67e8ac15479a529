package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CoreConfig captures all tunable parameters for the orchestration core.
// Values are primarily loaded from environment variables with sane defaults
// so the core can run in tests and simulators without excessive setup.
type CoreConfig struct {
	LocationTimeout time.Duration
	BackendTimeout  time.Duration
	BackendBaseURL  string

	HotlineNumber string

	ShareBaseURL     string
	StaticMapBaseURL string
	FreeShareMinutes int
	PushInterval     time.Duration

	QueueCap int

	DeviationThresholdM float64
	DeviationCooldown   time.Duration
	ArrivalRadiusM      float64
	RouteAutoEscalate   bool

	CheckInPoll time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	LogLevel string
}

func defaultCoreConfig() CoreConfig {
	return CoreConfig{
		LocationTimeout:     8 * time.Second,
		BackendTimeout:      10 * time.Second,
		HotlineNumber:       "911",
		ShareBaseURL:        "https://share.example.com/s",
		StaticMapBaseURL:    "https://maps.example.com/view",
		FreeShareMinutes:    15,
		PushInterval:        15 * time.Second,
		QueueCap:            20,
		DeviationThresholdM: 200,
		DeviationCooldown:   5 * time.Minute,
		ArrivalRadiusM:      50,
		CheckInPoll:         time.Minute,
		KafkaTopic:          "live-positions",
		LogLevel:            "info",
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	cfg := defaultCoreConfig()
	var errs []error

	setDurationFromEnv(&cfg.LocationTimeout, "LOCATION_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)
	setStringFromEnv(&cfg.BackendBaseURL, "BACKEND_BASE_URL")

	setStringFromEnv(&cfg.HotlineNumber, "HOTLINE_NUMBER")

	setStringFromEnv(&cfg.ShareBaseURL, "SHARE_BASE_URL")
	setStringFromEnv(&cfg.StaticMapBaseURL, "STATIC_MAP_BASE_URL")
	setIntFromEnv(&cfg.FreeShareMinutes, "FREE_SHARE_MINUTES", &errs)
	setDurationFromEnv(&cfg.PushInterval, "SHARE_PUSH_INTERVAL", &errs)

	setIntFromEnv(&cfg.QueueCap, "OFFLINE_QUEUE_CAP", &errs)

	setFloatFromEnv(&cfg.DeviationThresholdM, "DEVIATION_THRESHOLD_M", &errs)
	setDurationFromEnv(&cfg.DeviationCooldown, "DEVIATION_COOLDOWN", &errs)
	setFloatFromEnv(&cfg.ArrivalRadiusM, "ARRIVAL_RADIUS_M", &errs)
	cfg.RouteAutoEscalate = strings.EqualFold(os.Getenv("ROUTE_AUTO_ESCALATE"), "true")

	setDurationFromEnv(&cfg.CheckInPoll, "CHECKIN_POLL_INTERVAL", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.QueueCap <= 0 {
		errs = append(errs, fmt.Errorf("OFFLINE_QUEUE_CAP must be > 0"))
	}
	if cfg.DeviationThresholdM <= 0 {
		errs = append(errs, fmt.Errorf("DEVIATION_THRESHOLD_M must be > 0"))
	}
	if cfg.FreeShareMinutes <= 0 {
		errs = append(errs, fmt.Errorf("FREE_SHARE_MINUTES must be > 0"))
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

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
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
