// Package engine runs the adversarial refinement loop: a Generator proposes
// hypotheses from knowledge-base patterns, a Discriminator validates them
// against the evidence, and the round loop reconciles the outcomes into
// findings under round and wall-clock budgets.
package engine

import (
	"errors"
	"fmt"
	"time"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
)

// HypothesisStatus is the lifecycle state of a hypothesis. Transitions are
// proposed -> accepted|rejected (terminal) with superseded reserved for
// duplicates of an already-accepted hypothesis.
type HypothesisStatus string

const (
	StatusProposed   HypothesisStatus = "proposed"
	StatusAccepted   HypothesisStatus = "accepted"
	StatusRejected   HypothesisStatus = "rejected"
	StatusSuperseded HypothesisStatus = "superseded"
)

// ReasonEvaluationUnavailable marks a hypothesis rejected because its
// evaluation backend stayed unavailable through all retries.
const ReasonEvaluationUnavailable = "evaluation_unavailable"

// Hypothesis is one candidate vulnerability pending validation.
// SupportingEvidence is always non-empty and references only evidence units
// of the current run.
type Hypothesis struct {
	ID                 string           `json:"hypothesis_id"`
	PatternID          string           `json:"pattern_id"`
	Category           kb.Category      `json:"category"`
	Target             evidence.Locator `json:"target_locator"`
	SupportingEvidence []string         `json:"supporting_evidence"`
	Round              int              `json:"round_index"`
	Status             HypothesisStatus `json:"status"`
	StatusReason       string           `json:"status_reason,omitempty"`
	Confidence         float64          `json:"confidence"`
	Rationale          string           `json:"rationale,omitempty"`

	anchor     evidence.Claim
	supporting []evidence.Claim
}

// Key identifies the (pattern, target) pair used for duplicate detection.
func (h *Hypothesis) Key() string {
	return h.PatternID + "@" + h.Target.String()
}

func hypothesisID(patternID string, target evidence.Locator, round int) string {
	return fmt.Sprintf("%s@%s#r%d", patternID, target.String(), round)
}

// Severity labels, ordered.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// severityLabel buckets a severity score into the reporting labels the
// original case studies use.
func severityLabel(score float64) string {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	}
	return SeverityLow
}

// Finding is the terminal, externally reported form of an accepted
// hypothesis. Immutable once emitted.
type Finding struct {
	PatternID          string           `json:"pattern_id"`
	Category           kb.Category      `json:"category"`
	Title              string           `json:"title"`
	Severity           string           `json:"severity"`
	SeverityScore      float64          `json:"severity_score"`
	Target             evidence.Locator `json:"target_locator"`
	Confidence         float64          `json:"confidence"`
	SupportingEvidence []string         `json:"supporting_evidence"`
	Mitigation         string           `json:"mitigation_suggestion"`
	CaseReference      string           `json:"case_reference,omitempty"`
}

// Diagnostics explains why a run produced the result it did: which artifacts
// were excluded, which hypotheses degraded, and how the loop terminated.
type Diagnostics struct {
	Excluded       []evidence.Exclusion `json:"excluded_artifacts,omitempty"`
	Degraded       []string             `json:"degraded_hypotheses,omitempty"`
	TerminalReason string               `json:"terminal_reason"`
}

// Terminal reasons for the round loop.
const (
	TerminalNoNewHypotheses = "no_new_hypotheses"
	TerminalNoUnlock        = "no_dependency_unlocked"
	TerminalRoundBudget     = "round_budget_exhausted"
	TerminalWallClock       = "wall_clock_exceeded"
	TerminalCancelled       = "cancelled"
)

// Metrics are the per-run counters surfaced in reports.
type Metrics struct {
	RoundsUsed int           `json:"rounds_used"`
	Proposed   int           `json:"hypotheses_proposed"`
	Accepted   int           `json:"hypotheses_accepted"`
	Rejected   int           `json:"hypotheses_rejected"`
	Superseded int           `json:"hypotheses_superseded"`
	Degraded   int           `json:"hypotheses_degraded"`
	WallTime   time.Duration `json:"wall_time"`
}

// Result is everything one analysis run produces. Findings may be empty or
// partial; Diagnostics says why.
type Result struct {
	RunID       string                 `json:"run_id"`
	AssetType   evidence.AssetType     `json:"asset_type"`
	Findings    []Finding              `json:"findings"`
	Hypotheses  []*Hypothesis          `json:"hypotheses"`
	Diagnostics Diagnostics            `json:"diagnostics"`
	Metrics     Metrics                `json:"metrics"`
}

// ErrNoEvidence aborts a run when no artifact yielded a usable evidence unit.
var ErrNoEvidence = errors.New("engine: no usable evidence")
