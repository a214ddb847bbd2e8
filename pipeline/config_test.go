package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Load(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		def := Default()
		if cfg.Model.Provider != def.Model.Provider || cfg.Budget.CeilingUSD != def.Budget.CeilingUSD {
			t.Errorf("defaults not applied: %+v", cfg)
		}
	})

	t.Run("file overrides defaults selectively", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "planforge.yaml")
		body := `
model:
  provider: openai
  name: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
budget:
  ceiling_usd: 5.0
validation:
  max_cycles: 3
store:
  driver: memory
workspace:
  root: /tmp/planforge-ws
max_steps: 80
`
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Model.Provider != "openai" || cfg.Model.Name != "gpt-4o-mini" {
			t.Errorf("model section not applied: %+v", cfg.Model)
		}
		if cfg.Budget.CeilingUSD != 5.0 {
			t.Errorf("budget not applied: %v", cfg.Budget.CeilingUSD)
		}
		if cfg.Validation.MaxCycles != 3 {
			t.Errorf("validation not applied: %v", cfg.Validation)
		}
		if cfg.MaxSteps != 80 {
			t.Errorf("max_steps not applied: %d", cfg.MaxSteps)
		}
		// Untouched sections keep defaults.
		if cfg.Retry.MaxAttempts != Default().Retry.MaxAttempts {
			t.Errorf("retry defaults lost: %+v", cfg.Retry)
		}
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"unknown provider", "model:\n  provider: oracle\n"},
			{"unknown store driver", "store:\n  driver: tape\n"},
			{"zero budget", "budget:\n  ceiling_usd: 0\n"},
			{"zero cycles", "validation:\n  max_cycles: 0\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "bad.yaml")
				if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
					t.Fatalf("write config: %v", err)
				}
				if _, err := Load(path); err == nil {
					t.Error("expected validation error")
				}
			})
		}
	})
}

func TestConfig_RetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry = RetryConfig{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute}

	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 4 || policy.BaseDelay != time.Second || policy.MaxDelay != time.Minute {
		t.Errorf("policy conversion lost values: %+v", policy)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("converted policy invalid: %v", err)
	}
}

func TestConfig_OpenStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cfg := Default()
		cfg.Store = StoreConfig{Driver: "memory"}
		st, closeStore, err := cfg.OpenStore()
		if err != nil {
			t.Fatalf("OpenStore: %v", err)
		}
		defer closeStore()
		if st == nil {
			t.Fatal("nil store")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := Default()
		cfg.Store = StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "cp.db")}
		st, closeStore, err := cfg.OpenStore()
		if err != nil {
			t.Fatalf("OpenStore: %v", err)
		}
		defer closeStore()
		if st == nil {
			t.Fatal("nil store")
		}
	})

	t.Run("bad redis URL", func(t *testing.T) {
		cfg := Default()
		cfg.Store = StoreConfig{Driver: "redis", DSN: "not a url"}
		if _, _, err := cfg.OpenStore(); err == nil {
			t.Error("expected error for malformed redis URL")
		}
	})
}
