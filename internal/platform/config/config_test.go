package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Store.Backend)
	}
	if cfg.Pricing.TaxRateBps != defaultTaxRateBps {
		t.Errorf("unexpected tax rate: %d", cfg.Pricing.TaxRateBps)
	}
	if cfg.Upstream.Timeout != defaultUpstreamTimeout {
		t.Errorf("unexpected upstream timeout: %s", cfg.Upstream.Timeout)
	}
	if cfg.Auth.SessionCookie != defaultSessionCookie {
		t.Errorf("unexpected session cookie: %s", cfg.Auth.SessionCookie)
	}
	if cfg.Auth.SessionTTL != defaultSessionTTL {
		t.Errorf("unexpected session ttl: %s", cfg.Auth.SessionTTL)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SERVER_PORT":                  "9090",
		"STOREFRONT_SERVER_READ_TIMEOUT":          "20s",
		"STOREFRONT_STORE_BACKEND":                "redis",
		"STOREFRONT_STORE_REDIS_ADDR":             "redis:6380",
		"STOREFRONT_STORE_REDIS_DB":               "2",
		"STOREFRONT_PRICING_TAX_RATE_BPS":         "800",
		"STOREFRONT_UPSTREAM_STOCK_URL":           "https://stock.example.com",
		"STOREFRONT_UPSTREAM_ORDER_URL":           "https://orders.example.com",
		"STOREFRONT_AUTH_JWT_SECRET":              "s3cret",
		"STOREFRONT_AUTH_SESSION_TTL":             "1h",
		"STOREFRONT_STORE_FIRESTORE_PROJECT_ID":   "ignored-here",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.RedisAddr != "redis:6380" || cfg.Store.RedisDB != 2 {
		t.Errorf("store overrides not applied: %+v", cfg.Store)
	}
	if cfg.Pricing.TaxRateBps != 800 {
		t.Errorf("tax rate override not applied: %d", cfg.Pricing.TaxRateBps)
	}
	if cfg.Upstream.StockURL != "https://stock.example.com" || cfg.Upstream.OrderURL != "https://orders.example.com" {
		t.Errorf("upstream overrides not applied: %+v", cfg.Upstream)
	}
	if cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.SessionTTL != time.Hour {
		t.Errorf("auth overrides not applied: %+v", cfg.Auth)
	}
}

func TestLoadReadsDotEnvWithLowerPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "STOREFRONT_SERVER_PORT=7000\nSTOREFRONT_PRICING_TAX_RATE_BPS=500\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(
		WithEnvFile(envFile),
		WithEnvMap(map[string]string{"STOREFRONT_SERVER_PORT": "7100"}),
		WithoutSystemEnv(),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("explicit map should win over .env, got %s", cfg.Server.Port)
	}
	if cfg.Pricing.TaxRateBps != 500 {
		t.Errorf(".env value not applied: %d", cfg.Pricing.TaxRateBps)
	}
}

func TestLoadValidatesBackendRequirements(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{
			name:  "unknown backend",
			env:   map[string]string{"STOREFRONT_STORE_BACKEND": "dynamo"},
			field: "Store.Backend",
		},
		{
			name: "firestore without project",
			env: map[string]string{
				"STOREFRONT_STORE_BACKEND": "firestore",
			},
			field: "Store.FirestoreProjectID",
		},
		{
			name: "negative tax rate",
			env: map[string]string{
				"STOREFRONT_PRICING_TAX_RATE_BPS": "-5",
			},
			field: "Pricing.TaxRateBps",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, field := range verr.Fields() {
				if field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected field %s in %v", tc.field, verr.Fields())
			}
		})
	}
}
