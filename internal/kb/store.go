package kb

import (
	"errors"
	"fmt"

	"rwaguard/internal/evidence"
)

// UnknownPatternError is returned when feedback or an administrative action
// references a pattern ID the store has never seen. Fatal to that item only.
type UnknownPatternError struct {
	PatternID string
}

func (e *UnknownPatternError) Error() string {
	return fmt.Sprintf("kb: unknown pattern %q", e.PatternID)
}

// ErrPatternExists is returned by PutPattern when the ID is already present.
var ErrPatternExists = errors.New("kb: pattern already exists")

// FeedbackOutcome is one terminal hypothesis outcome attributed to a pattern.
type FeedbackOutcome struct {
	PatternID string
	Accepted  bool
}

// FeedbackBatch is one run's worth of outcomes. RunID keys idempotency:
// a batch whose RunID has already been applied must be skipped upstream.
type FeedbackBatch struct {
	RunID    string
	Outcomes []FeedbackOutcome
}

// FeedbackPolicy bounds how far one batch can move a confidence weight.
// Weights are capped at 1.0 and floored at MinRetained, never driven to zero,
// so a decayed pattern can still be re-evaluated later.
type FeedbackPolicy struct {
	Increment   float64
	Decrement   float64
	MinRetained float64
}

// DefaultFeedbackPolicy mirrors the bounded reinforcement/decay steps used
// at bootstrap.
func DefaultFeedbackPolicy() FeedbackPolicy {
	return FeedbackPolicy{Increment: 0.05, Decrement: 0.03, MinRetained: 0.05}
}

// apply returns the weight after one outcome under this policy.
func (p FeedbackPolicy) apply(weight float64, accepted bool) float64 {
	if accepted {
		weight += p.Increment
		if weight > 1.0 {
			weight = 1.0
		}
		return weight
	}
	weight -= p.Decrement
	if weight < p.MinRetained {
		weight = p.MinRetained
	}
	return weight
}

// PatternVersion is one entry in a pattern's append-only weight history.
// Version numbers start at 1 (insertion) and increase by one per feedback
// batch that touches the pattern.
type PatternVersion struct {
	PatternID        string
	Version          int
	ConfidenceWeight float64
	RunID            string
	AppliedAt        string
}

// Store is the knowledge base persistence facade. The engine and CLI use only
// this interface; implementations are in-memory or SQLite.
//
// QueryPatterns and QueryRules are read paths and never block on concurrent
// ApplyFeedback calls beyond the store's internal short critical sections.
// ApplyFeedback is the single mutation entry point for confidence weights;
// Tombstone is the single administrative removal path (patterns are never
// physically deleted).
type Store interface {
	// PutPattern inserts a new pattern. ErrPatternExists on duplicate ID.
	PutPattern(p VulnerabilityPattern) error
	// GetPattern returns a pattern by ID including tombstoned ones,
	// or an UnknownPatternError.
	GetPattern(patternID string) (*VulnerabilityPattern, error)
	// QueryPatterns returns non-tombstoned patterns applicable to the asset
	// type, filtered by categories (nil = all), ranked by confidence weight
	// descending with pattern ID ascending as the tie-break.
	QueryPatterns(assetType evidence.AssetType, categories []Category) ([]VulnerabilityPattern, error)

	// PutRule inserts or replaces a compliance rule.
	PutRule(r ComplianceRule) error
	// QueryRules returns the rules applicable to the asset type, including
	// rules registered for every asset type (AssetUnknown), ordered by rule ID.
	QueryRules(assetType evidence.AssetType) ([]ComplianceRule, error)

	// ApplyFeedback applies one run's outcome batch. Each touched pattern
	// gains exactly one new version record. Outcomes referencing unknown
	// patterns are skipped and reported via a joined UnknownPatternError;
	// the rest of the batch still applies. Tombstoned patterns record an
	// audit version but their effective weight does not change.
	ApplyFeedback(batch FeedbackBatch) error
	// HasAppliedRun reports whether a batch with this run ID was applied.
	HasAppliedRun(runID string) (bool, error)

	// Tombstone deprecates a pattern. It stays queryable via GetPattern and
	// History and keeps accepting audit feedback, but drops out of ranking.
	Tombstone(patternID string) error

	// History returns the append-only version history of a pattern, oldest
	// first.
	History(patternID string) ([]PatternVersion, error)
}
