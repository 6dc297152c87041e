package main

import (
	"context"

	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"rwaguard/internal/engine"
	"rwaguard/internal/ingest"
	"rwaguard/internal/logging"
	mcpserver "rwaguard/internal/mcp"
	"rwaguard/internal/reason"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing run_audit, get_report,
query_patterns, pattern_history, and tombstone_pattern.

The server monitors for parent process death and self-terminates when the
client disconnects, so no orphan processes accumulate.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

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

	var fetcher ingest.CodeFetcher
	if cfg.Chain.RPCURL != "" {
		chain, err := ingest.DialChain(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer chain.Close()
		fetcher = chain
	}

	eng := engine.New(store, reason.NewRuleEngine(), scorer, cfg.EngineConfig())
	srv := mcpserver.NewServer(store, eng, fetcher, version)

	mcpserver.WatchParent(ctx, cancel)

	logging.New("mcp").Info("starting rwaguard MCP server over stdio")
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
