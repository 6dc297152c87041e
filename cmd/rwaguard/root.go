package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rwaguard/internal/config"
	"rwaguard/internal/kb"
	"rwaguard/internal/logging"
	"rwaguard/internal/reason"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rwaguard",
	Short: "Adversarial vulnerability detection for tokenized real-world assets",
	Long: "rwaguard correlates smart-contract code with legal opinions, compliance\n" +
		"registers, and financial disclosures to detect RWA-specific defects:\n" +
		"missing KYC/AML gates, stale oracles, asset-mapping divergence.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default rwaguard.yaml if present)")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

// loadConfig reads the configuration and initializes logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return cfg, err
	}
	logging.Init(level, cfg.Logging.Format)
	return cfg, nil
}

// openStore opens the configured knowledge base, seeding it when enabled.
// The returned closer is a no-op for the in-memory store.
func openStore(cfg config.Config) (kb.Store, func(), error) {
	if cfg.KB.Path == "" {
		store := kb.NewMemStore()
		if cfg.KB.Seed {
			if err := kb.Seed(store); err != nil {
				return nil, nil, err
			}
		}
		return store, func() {}, nil
	}
	store, err := kb.Open(cfg.KB.Path)
	if err != nil {
		return nil, nil, err
	}
	store.SetFeedbackPolicy(cfg.FeedbackPolicy())
	if cfg.KB.Seed {
		if err := kb.Seed(store); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, func() { _ = store.Close() }, nil
}

// buildScorer selects the reasoning backend.
func buildScorer(ctx context.Context, cfg config.Config) (reason.Scorer, func(), error) {
	switch cfg.Reasoner.Backend {
	case "gemini":
		key := os.Getenv(cfg.Reasoner.APIKeyEnv)
		if key == "" {
			return nil, nil, fmt.Errorf("reasoner backend gemini needs %s set", cfg.Reasoner.APIKeyEnv)
		}
		scorer, err := reason.NewGeminiScorer(ctx, key, cfg.Reasoner.Model)
		if err != nil {
			return nil, nil, err
		}
		return scorer, func() { _ = scorer.Close() }, nil
	default:
		return reason.NewRuleEngine(), func() {}, nil
	}
}
