package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rwaguard/internal/engine"
	"rwaguard/internal/ingest"
	"rwaguard/internal/learn"
	"rwaguard/internal/logging"
	"rwaguard/internal/reason"
	"rwaguard/internal/report"
)

var analyzeFlags struct {
	manifest  string
	output    string
	format    string
	reconcile bool
	rpcURL    string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run an adversarial audit over a manifest of artifacts",
	RunE:  runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.manifest, "manifest", "", "audit manifest YAML (required)")
	f.StringVarP(&analyzeFlags.output, "output", "o", "", "write the report to a file instead of stdout")
	f.StringVar(&analyzeFlags.format, "format", "markdown", "report format: markdown or json")
	f.BoolVar(&analyzeFlags.reconcile, "reconcile", false, "apply this run's outcomes to the knowledge base")
	f.StringVar(&analyzeFlags.rpcURL, "rpc-url", "", "Ethereum RPC endpoint for on-chain artifacts (overrides config)")
	_ = analyzeCmd.MarkFlagRequired("manifest")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New("analyze")

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	scorer, closeScorer, err := buildScorer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeScorer()

	m, err := ingest.LoadManifest(analyzeFlags.manifest)
	if err != nil {
		return err
	}

	var fetcher ingest.CodeFetcher
	rpcURL := analyzeFlags.rpcURL
	if rpcURL == "" {
		rpcURL = cfg.Chain.RPCURL
	}
	if rpcURL != "" {
		chain, err := ingest.DialChain(ctx, rpcURL)
		if err != nil {
			return err
		}
		defer chain.Close()
		fetcher = chain
	}

	arts, resolveErrs := m.Resolve(ctx, fetcher)
	for _, re := range resolveErrs {
		log.Warn("artifact skipped", "err", re)
	}

	eng := engine.New(store, reason.NewRuleEngine(), scorer, cfg.EngineConfig())
	res, err := eng.Run(ctx, arts)
	if err != nil {
		return err
	}

	if analyzeFlags.reconcile {
		if err := learn.NewReconciler(store).Reconcile(res.RunID, res.Hypotheses); err != nil {
			return err
		}
	}

	var out []byte
	switch analyzeFlags.format {
	case "json":
		out, err = report.JSON(res)
		if err != nil {
			return err
		}
	case "markdown", "md":
		out = []byte(report.Markdown(res))
	default:
		return fmt.Errorf("unknown report format %q", analyzeFlags.format)
	}

	if analyzeFlags.output != "" {
		return os.WriteFile(analyzeFlags.output, out, 0644)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
