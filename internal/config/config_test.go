package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "STORE_DRIVER", "CACHE_TTL_SECONDS", "ARTIFACT_DRIVER", "MINIO_USE_SSL", "BCRYPT_COST"} {
		t.Setenv(key, "")
	}

	cfg := fromEnv()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if cfg.CacheTTL != 300*time.Second {
		t.Fatalf("expected 300s ttl, got %s", cfg.CacheTTL)
	}
	if cfg.ArtifactDriver != "none" {
		t.Fatalf("expected artifacts disabled by default, got %q", cfg.ArtifactDriver)
	}
	if cfg.MinioUseSSL {
		t.Fatal("expected ssl off by default")
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("expected bcrypt cost 12, got %d", cfg.BcryptCost)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("CACHE_TTL_SECONDS", "42")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("BCRYPT_COST", "not-a-number")

	cfg := fromEnv()
	if cfg.StoreDriver != "mongo" {
		t.Fatalf("expected driver to be lowercased, got %q", cfg.StoreDriver)
	}
	if cfg.CacheTTL != 42*time.Second {
		t.Fatalf("expected 42s ttl, got %s", cfg.CacheTTL)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected ssl on")
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("expected invalid cost to fall back, got %d", cfg.BcryptCost)
	}
}
