// Package config loads the run configuration: defaults in code, overridden by
// an optional rwaguard.yaml, overridden again by CLI flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rwaguard/internal/engine"
	"rwaguard/internal/kb"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "rwaguard.yaml"

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Reasoner struct {
	// Backend selects the scorer: "rules" or "gemini".
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the Gemini key.
	APIKeyEnv string `yaml:"api_key_env"`
}

type Engine struct {
	Threshold        float64 `yaml:"acceptance_threshold"`
	MaxRounds        int     `yaml:"max_rounds"`
	WallClockSeconds int     `yaml:"wall_clock_seconds"`
	Workers          int     `yaml:"workers"`
	Retries          int     `yaml:"retries"`
	BackoffMillis    int     `yaml:"backoff_ms"`
}

type Feedback struct {
	Increment   float64 `yaml:"increment"`
	Decrement   float64 `yaml:"decrement"`
	MinRetained float64 `yaml:"min_retained"`
}

type KB struct {
	// Path to the SQLite store; empty means in-memory.
	Path string `yaml:"path"`
	Seed bool   `yaml:"seed"`
}

type Chain struct {
	RPCURL string `yaml:"rpc_url"`
}

type Config struct {
	Logging  Logging  `yaml:"logging"`
	Reasoner Reasoner `yaml:"reasoner"`
	Engine   Engine   `yaml:"engine"`
	Feedback Feedback `yaml:"feedback"`
	KB       KB       `yaml:"kb"`
	Chain    Chain    `yaml:"chain"`
}

// Default returns the built-in configuration.
func Default() Config {
	ec := engine.DefaultConfig()
	fp := kb.DefaultFeedbackPolicy()
	return Config{
		Logging:  Logging{Level: "info", Format: "text"},
		Reasoner: Reasoner{Backend: "rules", APIKeyEnv: "GEMINI_API_KEY"},
		Engine: Engine{
			Threshold:        ec.Threshold,
			MaxRounds:        ec.MaxRounds,
			WallClockSeconds: int(ec.WallClock / time.Second),
			Workers:          ec.Workers,
			Retries:          ec.Retries,
			BackoffMillis:    int(ec.Backoff / time.Millisecond),
		},
		Feedback: Feedback{
			Increment:   fp.Increment,
			Decrement:   fp.Decrement,
			MinRetained: fp.MinRetained,
		},
		KB: KB{Path: kb.DefaultDBPath, Seed: true},
	}
}

// Load reads path over the defaults. A missing file at the default path is
// not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Engine.Threshold < 0 || c.Engine.Threshold > 1 {
		return fmt.Errorf("config: acceptance_threshold %.2f outside [0,1]", c.Engine.Threshold)
	}
	if c.Engine.MaxRounds < 1 {
		return fmt.Errorf("config: max_rounds must be at least 1")
	}
	switch c.Reasoner.Backend {
	case "rules", "gemini":
	default:
		return fmt.Errorf("config: unknown reasoner backend %q", c.Reasoner.Backend)
	}
	if c.Feedback.MinRetained <= 0 {
		return fmt.Errorf("config: min_retained must be positive")
	}
	return nil
}

// EngineConfig converts to the engine's run bounds.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Threshold: c.Engine.Threshold,
		MaxRounds: c.Engine.MaxRounds,
		WallClock: time.Duration(c.Engine.WallClockSeconds) * time.Second,
		Workers:   c.Engine.Workers,
		Retries:   c.Engine.Retries,
		Backoff:   time.Duration(c.Engine.BackoffMillis) * time.Millisecond,
	}
}

// FeedbackPolicy converts to the knowledge base's bounds.
func (c Config) FeedbackPolicy() kb.FeedbackPolicy {
	return kb.FeedbackPolicy{
		Increment:   c.Feedback.Increment,
		Decrement:   c.Feedback.Decrement,
		MinRetained: c.Feedback.MinRetained,
	}
}
