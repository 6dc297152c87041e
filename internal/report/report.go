// Package report renders an analysis result for humans (markdown) and for
// tooling (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"rwaguard/internal/engine"
)

// JSON renders the full result, findings first.
func JSON(res *engine.Result) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}

// Markdown renders the audit report. Output is fully determined by the
// result, so identical runs render identical reports.
func Markdown(res *engine.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# RWA audit report\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", res.RunID)
	fmt.Fprintf(&b, "- Asset type: %s\n", res.AssetType)
	fmt.Fprintf(&b, "- Rounds: %d, terminal: %s\n", res.Metrics.RoundsUsed, res.Diagnostics.TerminalReason)
	fmt.Fprintf(&b, "- Hypotheses: %d proposed, %d accepted, %d rejected, %d superseded, %d degraded\n\n",
		res.Metrics.Proposed, res.Metrics.Accepted, res.Metrics.Rejected,
		res.Metrics.Superseded, res.Metrics.Degraded)

	if len(res.Findings) == 0 {
		b.WriteString("No findings.\n")
	} else {
		fmt.Fprintf(&b, "## Findings (%d)\n\n", len(res.Findings))
		for i, f := range res.Findings {
			fmt.Fprintf(&b, "### %d. [%s] %s\n\n", i+1, strings.ToUpper(f.Severity), f.Title)
			fmt.Fprintf(&b, "- Pattern: `%s` (%s)\n", f.PatternID, f.Category)
			fmt.Fprintf(&b, "- Target: `%s`\n", f.Target.String())
			fmt.Fprintf(&b, "- Confidence: %.2f\n", f.Confidence)
			fmt.Fprintf(&b, "- Evidence: %s\n", strings.Join(f.SupportingEvidence, ", "))
			if f.Mitigation != "" {
				fmt.Fprintf(&b, "- Mitigation: %s\n", strings.TrimSpace(f.Mitigation))
			}
			if f.CaseReference != "" {
				fmt.Fprintf(&b, "- Precedent: %s\n", f.CaseReference)
			}
			b.WriteString("\n")
		}
	}

	if len(res.Diagnostics.Excluded) > 0 {
		fmt.Fprintf(&b, "## Excluded artifacts (%d)\n\n", len(res.Diagnostics.Excluded))
		for _, e := range res.Diagnostics.Excluded {
			fmt.Fprintf(&b, "- `%s`: %s\n", e.Artifact, e.Reason)
		}
		b.WriteString("\n")
	}
	if len(res.Diagnostics.Degraded) > 0 {
		fmt.Fprintf(&b, "## Degraded hypotheses (%d)\n\n", len(res.Diagnostics.Degraded))
		for _, id := range res.Diagnostics.Degraded {
			fmt.Fprintf(&b, "- `%s`: evaluation unavailable\n", id)
		}
		b.WriteString("\n")
	}
	return b.String()
}
