package engine

import (
	"sort"

	"rwaguard/internal/kb"
)

// newFinding enriches an accepted hypothesis with the pattern's severity,
// mitigation, and historical case reference.
func newFinding(h *Hypothesis, p kb.VulnerabilityPattern) Finding {
	return Finding{
		PatternID:          h.PatternID,
		Category:           p.Category,
		Title:              p.Title,
		Severity:           severityLabel(p.SeverityPrior),
		SeverityScore:      p.SeverityPrior,
		Target:             h.Target,
		Confidence:         h.Confidence,
		SupportingEvidence: h.SupportingEvidence,
		Mitigation:         p.Mitigation,
		CaseReference:      p.CaseReference,
	}
}

// sortFindings orders the report: severity descending, then target locator
// ascending, then pattern ID ascending. The ordering is total, so identical
// runs render byte-identical reports.
func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].SeverityScore != fs[j].SeverityScore {
			return fs[i].SeverityScore > fs[j].SeverityScore
		}
		if a, b := fs[i].Target.String(), fs[j].Target.String(); a != b {
			return a < b
		}
		return fs[i].PatternID < fs[j].PatternID
	})
}
