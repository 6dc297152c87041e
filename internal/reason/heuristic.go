package reason

import (
	"context"
	"fmt"
	"strings"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
)

// RuleEngine is the deterministic Matcher and Scorer. It evaluates trigger
// signatures by case-folded substring search over claims and never returns
// an UnavailableError, which makes it the fallback backend.
type RuleEngine struct{}

// NewRuleEngine returns the rule-based reasoning backend.
func NewRuleEngine() *RuleEngine { return &RuleEngine{} }

func containsFold(text, term string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(term))
}

// clauseHolds checks one clause against the claims of its modality:
// every MustContain term appears in at least one claim, no MustNotContain
// term appears in any.
func clauseHolds(c kb.TriggerClause, ev *evidence.Set) bool {
	units := ev.ByModality(c.Modality)
	for _, term := range c.MustContain {
		found := false
		for _, u := range units {
			if u.ContainsTerm(term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, term := range c.MustNotContain {
		for _, u := range units {
			if u.ContainsTerm(term) {
				return false
			}
		}
	}
	return true
}

// located pairs a claim with the unit it came from.
type located struct {
	claim  evidence.Claim
	unitID string
}

// supportingClaims returns, per MustContain term of the clause, the first
// claim in document order that contains it. Duplicates collapse.
func supportingClaims(c kb.TriggerClause, ev *evidence.Set) []located {
	var out []located
	seen := make(map[string]bool)
	for _, term := range c.MustContain {
		for _, u := range ev.ByModality(c.Modality) {
			match := false
			for _, claim := range u.Claims {
				if containsFold(claim.Text, term) {
					key := claim.Loc.String() + "|" + claim.Text
					if !seen[key] {
						seen[key] = true
						out = append(out, located{claim: claim, unitID: u.ID})
					}
					match = true
					break
				}
			}
			if match {
				break
			}
		}
	}
	return out
}

// anchorClaims returns the claims that individually satisfy the whole anchor
// clause; each yields one match. An absence-only anchor yields a single
// synthetic anchor at the first claim of its modality.
func anchorClaims(c kb.TriggerClause, ev *evidence.Set) []located {
	units := ev.ByModality(c.Modality)
	if len(c.MustContain) == 0 {
		for _, u := range units {
			if len(u.Claims) > 0 {
				return []located{{claim: u.Claims[0], unitID: u.ID}}
			}
		}
		return nil
	}
	var out []located
	for _, u := range units {
		for _, claim := range u.Claims {
			ok := true
			for _, term := range c.MustContain {
				if !containsFold(claim.Text, term) {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, located{claim: claim, unitID: u.ID})
			}
		}
	}
	return out
}

func (e *RuleEngine) Match(ctx context.Context, p kb.VulnerabilityPattern, ev *evidence.Set) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ev.HasModalities(p.RequiredModalities) {
		return nil, nil
	}
	for _, c := range p.Trigger.Clauses {
		if !clauseHolds(c, ev) {
			return nil, nil
		}
	}

	anchor := p.Trigger.AnchorClause()
	if anchor == nil {
		return nil, nil
	}

	var supporting []evidence.Claim
	var supportIDs []string
	seenIDs := make(map[string]bool)
	for i := range p.Trigger.Clauses {
		c := &p.Trigger.Clauses[i]
		if c == anchor {
			continue
		}
		for _, l := range supportingClaims(*c, ev) {
			supporting = append(supporting, l.claim)
			if !seenIDs[l.unitID] {
				seenIDs[l.unitID] = true
				supportIDs = append(supportIDs, l.unitID)
			}
		}
	}

	var matches []Match
	for _, a := range anchorClaims(*anchor, ev) {
		ids := make([]string, 0, len(supportIDs)+1)
		ids = append(ids, a.unitID)
		for _, id := range supportIDs {
			if id != a.unitID {
				ids = append(ids, id)
			}
		}
		matches = append(matches, Match{
			PatternID:  p.PatternID,
			Target:     a.claim.Loc,
			Anchor:     a.claim,
			Supporting: supporting,
			UnitIDs:    ids,
		})
	}
	return matches, nil
}

// remediationMarkers in auditor report text neutralize a suspected defect.
var remediationMarkers = []string{"remediated", "mitigated", "resolved", "fixed", "waived"}

func (e *RuleEngine) Score(ctx context.Context, req ScoreRequest) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}

	// Presence clauses carry full evidential weight, absence-only clauses
	// half: "we did not see it" is weaker than "we saw it".
	var sum float64
	for _, c := range req.Pattern.Trigger.Clauses {
		if len(c.MustContain) > 0 {
			sum += 1.0
		} else {
			sum += 0.5
		}
	}
	support := 0.0
	if n := len(req.Pattern.Trigger.Clauses); n > 0 {
		support = sum / float64(n)
	}

	terms := triggerTerms(req.Pattern.Trigger)

	corroborated := false
	for _, r := range req.Rules {
		for _, term := range terms {
			if containsFold(r.Obligation, term) {
				corroborated = true
				break
			}
		}
		if corroborated {
			break
		}
	}

	contradicted := false
	if req.Evidence != nil {
		for _, u := range req.Evidence.ByModality(evidence.ModalityReportText) {
			for _, claim := range u.Claims {
				if !mentionsAny(claim.Text, terms) {
					continue
				}
				if mentionsAny(claim.Text, remediationMarkers) {
					contradicted = true
					break
				}
			}
			if contradicted {
				break
			}
		}
	}

	return Assessment{
		Support:      support,
		Corroborated: corroborated,
		Contradicted: contradicted,
		Rationale:    fmt.Sprintf("rule engine: %d/%d clauses held at %s", len(req.Pattern.Trigger.Clauses), len(req.Pattern.Trigger.Clauses), req.Target.String()),
	}, nil
}

func triggerTerms(t kb.TriggerSignature) []string {
	var terms []string
	for _, c := range t.Clauses {
		terms = append(terms, c.MustContain...)
		terms = append(terms, c.MustNotContain...)
	}
	return terms
}

func mentionsAny(text string, terms []string) bool {
	for _, term := range terms {
		if containsFold(text, term) {
			return true
		}
	}
	return false
}
