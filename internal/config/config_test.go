package config

import (
	"strings"
	"testing"
	"time"
)

func TestServerDefaults(t *testing.T) {
	t.Setenv("GOOGLE_MAPS_API_KEY", "k")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Policy != "broadcast" || cfg.RosterBackend != RosterMemory {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.RadiiKm) != 3 || cfg.RadiiKm[0] != 5 || cfg.RadiiKm[2] != 15 {
		t.Fatalf("unexpected radii %v", cfg.RadiiKm)
	}
	if cfg.InstanceID == "" {
		t.Fatalf("instance id should default to the hostname")
	}
}

func TestServerOverrides(t *testing.T) {
	t.Setenv("GOOGLE_MAPS_API_KEY", "k")
	t.Setenv("DISPATCH_POLICY", "single-assign")
	t.Setenv("DISPATCH_RADII_KM", "2, 4,8")
	t.Setenv("HTTP_READ_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("ROSTER_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PG_DSN", "postgres://x")
	t.Setenv("MIGRATE", "TRUE")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Policy != "single-assign" || cfg.ReadTimeout != 3*time.Second || !cfg.RunMigrations {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if len(cfg.RadiiKm) != 3 || cfg.RadiiKm[1] != 4 {
		t.Fatalf("unexpected radii %v", cfg.RadiiKm)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.RosterBackend != RosterRedis || cfg.RosterPGDSN != "postgres://x" {
		t.Fatalf("unexpected roster config %+v", cfg)
	}
}

func TestServerErrorsAreJoined(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("DISPATCH_RADII_KM", "10,5")
	t.Setenv("ROSTER_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("GOOGLE_MAPS_API_KEY", "")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"HTTP_READ_TIMEOUT", "DISPATCH_RADII_KM", "REDIS_ADDR", "GOOGLE_MAPS_API_KEY"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_GROUP", "roster")
	t.Setenv("CONSUMER_RETRIES", "0")
	cfg, err := LoadConsumerConfig()
	if err == nil || !strings.Contains(err.Error(), "CONSUMER_RETRIES") {
		t.Fatalf("expected retries error, got %v", err)
	}
	if cfg.KafkaGroup != "roster" || cfg.RedisGeoKey != "drivers_geo" {
		t.Fatalf("unexpected consumer config %+v", cfg)
	}
}
