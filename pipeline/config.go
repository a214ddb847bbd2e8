package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/call"
	"github.com/dshills/planforge/flow/model"
	"github.com/dshills/planforge/flow/model/anthropic"
	"github.com/dshills/planforge/flow/model/google"
	"github.com/dshills/planforge/flow/model/openai"
	"github.com/dshills/planforge/flow/store"
)

// Config is the pipeline's runtime configuration, loaded from YAML. Zero
// values fall back to the defaults from Default.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Budget     BudgetConfig     `yaml:"budget"`
	Validation ValidationConfig `yaml:"validation"`
	Retry      RetryConfig      `yaml:"retry"`
	Store      StoreConfig      `yaml:"store"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`

	// MaxSteps is the engine's hard ceiling on node executions per run.
	MaxSteps int `yaml:"max_steps"`
}

// ModelConfig selects the reasoning provider and model. The API key is read
// from APIKeyEnv so keys never live in config files.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// BudgetConfig caps a run's delegated-call spend.
type BudgetConfig struct {
	CeilingUSD float64 `yaml:"ceiling_usd"`
}

// ValidationConfig bounds the rework loop.
type ValidationConfig struct {
	MaxCycles int `yaml:"max_cycles"`
}

// RetryConfig shapes the call adapter's retry behavior.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// StoreConfig selects the checkpoint backend.
//
// Driver is one of "memory", "sqlite", "mysql", "redis". DSN is the
// backend-specific address: a file path for sqlite, a DSN for mysql, a
// redis URL for redis, unused for memory.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WorkspaceConfig locates the workspace root directory.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Provider:  "anthropic",
			Name:      "claude-3-5-sonnet-20241022",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Budget:     BudgetConfig{CeilingUSD: 2.00},
		Validation: ValidationConfig{MaxCycles: 2},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    15 * time.Second,
		},
		Store:     StoreConfig{Driver: "sqlite", DSN: "planforge.db"},
		Workspace: WorkspaceConfig{Root: "workspaces"},
		MaxSteps:  50,
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai", "google", "mock":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "mysql", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Budget.CeilingUSD <= 0 {
		return fmt.Errorf("budget ceiling must be positive, got %v", c.Budget.CeilingUSD)
	}
	if c.Validation.MaxCycles < 1 {
		return fmt.Errorf("validation max_cycles must be at least 1, got %d", c.Validation.MaxCycles)
	}
	return nil
}

// RetryPolicy converts the retry section to the adapter's policy type.
func (c Config) RetryPolicy() flow.RetryPolicy {
	return flow.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// ChatModel constructs the configured provider client. The returned close
// function releases provider resources and is always non-nil.
func (c Config) ChatModel(ctx context.Context) (model.ChatModel, func() error, error) {
	noop := func() error { return nil }

	apiKey := os.Getenv(c.Model.APIKeyEnv)
	if apiKey == "" && c.Model.Provider != "mock" {
		return nil, nil, fmt.Errorf("API key environment variable %s is not set", c.Model.APIKeyEnv)
	}

	switch c.Model.Provider {
	case "anthropic":
		return anthropic.New(apiKey, c.Model.Name), noop, nil
	case "openai":
		return openai.New(apiKey, c.Model.Name), noop, nil
	case "google":
		m, err := google.New(ctx, apiKey, c.Model.Name)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	case "mock":
		return &model.MockChatModel{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
}

// OpenStore constructs the configured checkpoint backend. The returned close
// function releases backend connections and is always non-nil.
func (c Config) OpenStore() (store.Store[Document], func() error, error) {
	noop := func() error { return nil }

	switch c.Store.Driver {
	case "memory":
		return store.NewMemStore[Document](), noop, nil
	case "sqlite":
		s, err := store.NewSQLiteStore[Document](c.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "mysql":
		s, err := store.NewMySQLStore[Document](c.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		opts, err := redis.ParseURL(c.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		return store.NewRedisStore[Document](client), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

// NewCallAdapter builds the budgeted call adapter from the config.
func (c Config) NewCallAdapter(chat model.ChatModel, metrics *flow.Metrics) *call.Adapter {
	opts := []call.Option{call.WithRetryPolicy(c.RetryPolicy())}
	if metrics != nil {
		opts = append(opts, call.WithMetrics(metrics))
	}
	return call.New(chat, c.Model.Name, opts...)
}
