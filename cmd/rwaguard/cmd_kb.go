package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect and administer the knowledge base",
}

var kbListFlags struct {
	assetType string
	category  string
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List patterns ranked by confidence weight",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		var categories []kb.Category
		if kbListFlags.category != "" {
			categories = append(categories, kb.Category(kbListFlags.category))
		}
		patterns, err := store.QueryPatterns(evidence.MapAssetType(kbListFlags.assetType), categories)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, p := range patterns {
			fmt.Fprintf(w, "%-28s %-22s weight=%.2f prior=%.2f  %s\n",
				p.PatternID, p.Category, p.ConfidenceWeight, p.SeverityPrior, p.Title)
		}
		return nil
	},
}

var kbSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the built-in pattern and rule catalog (existing patterns untouched)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.KB.Seed = false // seed explicitly below, not on open
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := kb.Seed(store); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "seed catalog loaded")
		return nil
	},
}

var kbTombstoneCmd = &cobra.Command{
	Use:   "tombstone <pattern-id>",
	Short: "Deprecate a pattern (drops out of ranking, history preserved)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := store.Tombstone(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tombstoned %s\n", args[0])
		return nil
	},
}

var kbHistoryCmd = &cobra.Command{
	Use:   "history <pattern-id>",
	Short: "Show a pattern's confidence-weight version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		versions, err := store.History(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, v := range versions {
			run := v.RunID
			if run == "" {
				run = "-"
			}
			fmt.Fprintf(w, "v%-3d weight=%.2f run=%s at=%s\n", v.Version, v.ConfidenceWeight, run, v.AppliedAt)
		}
		return nil
	},
}

func init() {
	kbListCmd.Flags().StringVar(&kbListFlags.assetType, "asset-type", "", "free-text asset type filter")
	kbListCmd.Flags().StringVar(&kbListFlags.category, "category", "", "category filter")
	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbSeedCmd)
	kbCmd.AddCommand(kbTombstoneCmd)
	kbCmd.AddCommand(kbHistoryCmd)
}
