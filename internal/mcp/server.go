// Package mcp exposes the audit pipeline and knowledge base over the Model
// Context Protocol so agent frontends can drive analyses.
package mcp

import (
	"context"
	"fmt"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"rwaguard/internal/engine"
	"rwaguard/internal/evidence"
	"rwaguard/internal/ingest"
	"rwaguard/internal/kb"
	"rwaguard/internal/learn"
	"rwaguard/internal/logging"
	"rwaguard/internal/report"
)

// Server wraps the MCP SDK server around one engine and knowledge base.
type Server struct {
	MCPServer *sdkmcp.Server

	store   kb.Store
	engine  *engine.Engine
	learner *learn.Reconciler
	fetcher ingest.CodeFetcher

	mu      sync.Mutex
	results map[string]*engine.Result
}

// NewServer registers the audit and knowledge-base tools. fetcher may be nil
// when no chain endpoint is configured.
func NewServer(store kb.Store, eng *engine.Engine, fetcher ingest.CodeFetcher, version string) *Server {
	s := &Server{
		store:   store,
		engine:  eng,
		learner: learn.NewReconciler(store),
		fetcher: fetcher,
		results: make(map[string]*engine.Result),
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "rwaguard", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_audit",
		Description: "Run an adversarial audit over the artifacts listed in a YAML manifest. Returns the run ID and findings.",
	}, s.handleRunAudit)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Get the rendered markdown report and metrics for a completed run.",
	}, s.handleGetReport)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "query_patterns",
		Description: "List knowledge-base patterns ranked by confidence weight, optionally filtered by asset type and categories.",
	}, s.handleQueryPatterns)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "pattern_history",
		Description: "Get the append-only confidence-weight version history of one pattern.",
	}, s.handlePatternHistory)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "tombstone_pattern",
		Description: "Deprecate a pattern. It drops out of ranking but stays auditable; patterns are never deleted.",
	}, s.handleTombstone)
}

// --- Tool input/output types ---

type runAuditInput struct {
	ManifestPath string `json:"manifest_path" jsonschema:"path to the audit manifest YAML"`
	Reconcile    bool   `json:"reconcile,omitempty" jsonschema:"apply this run's outcomes to the knowledge base afterwards"`
}

type runAuditOutput struct {
	RunID          string           `json:"run_id"`
	AssetType      string           `json:"asset_type"`
	Findings       []engine.Finding `json:"findings"`
	TerminalReason string           `json:"terminal_reason"`
	Degraded       int              `json:"degraded"`
}

type getReportInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from run_audit"`
}

type getReportOutput struct {
	Report  string          `json:"report"`
	Metrics *engine.Metrics `json:"metrics"`
}

type queryPatternsInput struct {
	AssetType  string   `json:"asset_type,omitempty" jsonschema:"free-text asset type, e.g. 'commercial real estate'"`
	Categories []string `json:"categories,omitempty" jsonschema:"category filter (compliance-bypass, asset-mapping-error, oracle-manipulation, business-logic-flaw)"`
}

type patternSummary struct {
	PatternID        string  `json:"pattern_id"`
	Category         string  `json:"category"`
	Title            string  `json:"title"`
	SeverityPrior    float64 `json:"severity_prior"`
	ConfidenceWeight float64 `json:"confidence_weight"`
}

type queryPatternsOutput struct {
	Patterns []patternSummary `json:"patterns"`
}

type patternHistoryInput struct {
	PatternID string `json:"pattern_id" jsonschema:"pattern to inspect"`
}

type patternHistoryOutput struct {
	Versions []kb.PatternVersion `json:"versions"`
}

type tombstoneInput struct {
	PatternID string `json:"pattern_id" jsonschema:"pattern to deprecate"`
}

type tombstoneOutput struct {
	OK string `json:"ok"`
}

// --- Tool handlers ---

func (s *Server) handleRunAudit(ctx context.Context, _ *sdkmcp.CallToolRequest, input runAuditInput) (*sdkmcp.CallToolResult, runAuditOutput, error) {
	logger := logging.New("mcp-audit")
	if input.ManifestPath == "" {
		return nil, runAuditOutput{}, fmt.Errorf("manifest_path is required")
	}

	m, err := ingest.LoadManifest(input.ManifestPath)
	if err != nil {
		return nil, runAuditOutput{}, err
	}
	arts, resolveErrs := m.Resolve(ctx, s.fetcher)
	for _, re := range resolveErrs {
		logger.Warn("artifact skipped", "err", re)
	}

	res, err := s.engine.Run(ctx, arts)
	if err != nil {
		return nil, runAuditOutput{}, fmt.Errorf("run audit: %w", err)
	}

	s.mu.Lock()
	s.results[res.RunID] = res
	s.mu.Unlock()

	if input.Reconcile {
		if err := s.learner.Reconcile(res.RunID, res.Hypotheses); err != nil {
			logger.Warn("feedback not applied", "run", res.RunID, "err", err)
		}
	}

	return nil, runAuditOutput{
		RunID:          res.RunID,
		AssetType:      string(res.AssetType),
		Findings:       res.Findings,
		TerminalReason: res.Diagnostics.TerminalReason,
		Degraded:       res.Metrics.Degraded,
	}, nil
}

func (s *Server) handleGetReport(ctx context.Context, _ *sdkmcp.CallToolRequest, input getReportInput) (*sdkmcp.CallToolResult, getReportOutput, error) {
	s.mu.Lock()
	res, ok := s.results[input.RunID]
	s.mu.Unlock()
	if !ok {
		return nil, getReportOutput{}, fmt.Errorf("unknown run %q (call run_audit first)", input.RunID)
	}
	return nil, getReportOutput{
		Report:  report.Markdown(res),
		Metrics: &res.Metrics,
	}, nil
}

func (s *Server) handleQueryPatterns(ctx context.Context, _ *sdkmcp.CallToolRequest, input queryPatternsInput) (*sdkmcp.CallToolResult, queryPatternsOutput, error) {
	var categories []kb.Category
	for _, c := range input.Categories {
		categories = append(categories, kb.Category(c))
	}
	patterns, err := s.store.QueryPatterns(evidence.MapAssetType(input.AssetType), categories)
	if err != nil {
		return nil, queryPatternsOutput{}, err
	}
	out := queryPatternsOutput{Patterns: make([]patternSummary, 0, len(patterns))}
	for _, p := range patterns {
		out.Patterns = append(out.Patterns, patternSummary{
			PatternID:        p.PatternID,
			Category:         string(p.Category),
			Title:            p.Title,
			SeverityPrior:    p.SeverityPrior,
			ConfidenceWeight: p.ConfidenceWeight,
		})
	}
	return nil, out, nil
}

func (s *Server) handlePatternHistory(ctx context.Context, _ *sdkmcp.CallToolRequest, input patternHistoryInput) (*sdkmcp.CallToolResult, patternHistoryOutput, error) {
	versions, err := s.store.History(input.PatternID)
	if err != nil {
		return nil, patternHistoryOutput{}, err
	}
	return nil, patternHistoryOutput{Versions: versions}, nil
}

func (s *Server) handleTombstone(ctx context.Context, _ *sdkmcp.CallToolRequest, input tombstoneInput) (*sdkmcp.CallToolResult, tombstoneOutput, error) {
	if err := s.store.Tombstone(input.PatternID); err != nil {
		return nil, tombstoneOutput{}, err
	}
	logging.New("mcp-kb").Info("pattern tombstoned", "pattern", input.PatternID)
	return nil, tombstoneOutput{OK: "pattern tombstoned"}, nil
}
