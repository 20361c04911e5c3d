package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Roster backends.
const (
	RosterMemory   = "memory"
	RosterRedis    = "redis"
	RosterPostgres = "postgres"
)

// ServerConfig captures all tunable parameters for the API and gateway
// process. Values are loaded from environment variables with defaults so
// the binary runs locally with nothing but a Google Maps key.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	InstanceID      string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaTopic         string
	KafkaRideTopic     string
	RabbitURL          string
	PushEndpoint       string
	PushKey            string
	JWTSecret          string
	EventTimeout       time.Duration
	GatewayEnabled     bool
	GoogleMapsKey      string
	GoogleMapsEndpoint string
	OSRMEndpoint       string
	MapsRetries        int
	MapsRetryDelay     time.Duration
	RouteCacheTTL      time.Duration

	PGDSN         string
	RosterBackend string
	RosterPGDSN   string

	Policy         string
	RadiiKm        []float64
	DriverSpeedKmh float64
	FareTablePath  string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		KafkaRideTopic:  "ride-events",
		EventTimeout:    10 * time.Second,
		GatewayEnabled:  true,
		MapsRetries:     3,
		MapsRetryDelay:  200 * time.Millisecond,
		RouteCacheTTL:   10 * time.Minute,
		RosterBackend:   RosterMemory,
		Policy:          "broadcast",
		RadiiKm:         []float64{5, 10, 15},
		DriverSpeedKmh:  28.8,
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
	cfg.InstanceID = strings.TrimSpace(os.Getenv("INSTANCE_ID"))
	if cfg.InstanceID == "" {
		cfg.InstanceID, _ = os.Hostname()
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaRideTopic, "KAFKA_RIDE_TOPIC")

	cfg.RabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))
	cfg.PushKey = os.Getenv("PUSH_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setDurationFromEnv(&cfg.EventTimeout, "GATEWAY_EVENT_TIMEOUT", &errs)
	if v := os.Getenv("GATEWAY_ENABLED"); v != "" {
		cfg.GatewayEnabled = !strings.EqualFold(v, "false")
	}

	cfg.GoogleMapsKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	cfg.GoogleMapsEndpoint = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_ENDPOINT"))
	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setIntFromEnv(&cfg.MapsRetries, "MAPS_RETRIES", &errs)
	setDurationFromEnv(&cfg.MapsRetryDelay, "MAPS_RETRY_DELAY", &errs)
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	if v := os.Getenv("ROSTER_BACKEND"); v != "" {
		cfg.RosterBackend = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.RosterPGDSN = os.Getenv("ROSTER_PG_DSN")
	if cfg.RosterPGDSN == "" {
		cfg.RosterPGDSN = cfg.PGDSN
	}

	setStringFromEnv(&cfg.Policy, "DISPATCH_POLICY")
	setFloatsFromEnv(&cfg.RadiiKm, "DISPATCH_RADII_KM", &errs)
	setFloatFromEnv(&cfg.DriverSpeedKmh, "DRIVER_SPEED_KMH", &errs)
	cfg.FareTablePath = strings.TrimSpace(os.Getenv("FARE_TABLE_PATH"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	return cfg, errors.Join(append(errs, cfg.validate()...)...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.MapsRetries <= 0 {
		errs = append(errs, fmt.Errorf("MAPS_RETRIES must be > 0"))
	}
	if c.DriverSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("DRIVER_SPEED_KMH must be > 0"))
	}
	for i, r := range c.RadiiKm {
		if r <= 0 || (i > 0 && r <= c.RadiiKm[i-1]) {
			errs = append(errs, fmt.Errorf("DISPATCH_RADII_KM must be positive and increasing"))
			break
		}
	}
	switch c.RosterBackend {
	case RosterMemory:
	case RosterRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("ROSTER_BACKEND=redis needs REDIS_ADDR"))
		}
	case RosterPostgres:
		if c.RosterPGDSN == "" {
			errs = append(errs, fmt.Errorf("ROSTER_BACKEND=postgres needs ROSTER_PG_DSN or PG_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ROSTER_BACKEND %q", c.RosterBackend))
	}
	if c.GoogleMapsKey == "" {
		errs = append(errs, fmt.Errorf("GOOGLE_MAPS_API_KEY is required for geocoding"))
	}
	return errs
}

// ConsumerConfig drives cmd/consumer, which folds the driver location
// stream into the Redis roster.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	RedisGeoKey  string
	Retries      int
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroup:   "geo-updater",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		Retries:      3,
		LogLevel:     "info",
	}
	var errs []error
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setIntFromEnv(&cfg.Retries, "CONSUMER_RETRIES", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.Retries <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_RETRIES must be > 0"))
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

func setFloatsFromEnv(target *[]float64, key string, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []float64
	for _, part := range splitAndTrim(v) {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		out = append(out, f)
	}
	*target = out
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
