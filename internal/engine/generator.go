package engine

import (
	"context"
	"log/slog"
	"sort"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
	"rwaguard/internal/logging"
	"rwaguard/internal/reason"
)

// Generator proposes hypotheses by matching ranked patterns against the
// evidence set. Output order is pattern rank first, then target locator, so
// identical inputs always produce the same proposal sequence.
type Generator struct {
	matcher reason.Matcher
	log     *slog.Logger
}

// NewGenerator wraps a matcher.
func NewGenerator(m reason.Matcher) *Generator {
	return &Generator{matcher: m, log: logging.New("generator")}
}

// Propose emits one proposed hypothesis per pattern match. Patterns must
// already be in knowledge-base rank order. Zero hypotheses is a valid result.
func (g *Generator) Propose(ctx context.Context, patterns []kb.VulnerabilityPattern, ev *evidence.Set, round int) ([]*Hypothesis, error) {
	var out []*Hypothesis
	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := g.matcher.Match(ctx, p, ev)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Target.String() < matches[j].Target.String()
		})
		for _, m := range matches {
			if len(m.UnitIDs) == 0 {
				continue
			}
			out = append(out, &Hypothesis{
				ID:                 hypothesisID(p.PatternID, m.Target, round),
				PatternID:          p.PatternID,
				Category:           p.Category,
				Target:             m.Target,
				SupportingEvidence: m.UnitIDs,
				Round:              round,
				Status:             StatusProposed,
				anchor:             m.Anchor,
				supporting:         m.Supporting,
			})
		}
		if len(matches) > 0 {
			g.log.Debug("pattern matched", "pattern", p.PatternID, "matches", len(matches), "round", round)
		}
	}
	return out, nil
}
