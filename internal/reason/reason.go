// Package reason holds the two reasoning roles of the audit loop: a Matcher
// that proposes pattern matches against normalized evidence, and a Scorer
// that assesses how well the evidence supports one match. Both have a
// deterministic rule-based implementation and an LLM-backed one; the engine
// treats them interchangeably.
package reason

import (
	"context"
	"errors"
	"fmt"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
)

// Match is one firing of a pattern's trigger against the evidence: the anchor
// claim supplies the target locator, Supporting holds one claim per satisfied
// presence clause (absence clauses contribute none). UnitIDs lists the
// evidence units the anchor and supporting claims came from, deduped in
// discovery order.
type Match struct {
	PatternID  string
	Target     evidence.Locator
	Anchor     evidence.Claim
	Supporting []evidence.Claim
	UnitIDs    []string
}

// Matcher proposes matches of one pattern against an evidence set.
// Implementations must be deterministic for identical inputs: same matches,
// same order.
type Matcher interface {
	Match(ctx context.Context, p kb.VulnerabilityPattern, ev *evidence.Set) ([]Match, error)
}

// ScoreRequest is everything a Scorer may consult when assessing one match.
// Evidence is the full run set, read-only.
type ScoreRequest struct {
	Pattern    kb.VulnerabilityPattern
	Target     evidence.Locator
	Anchor     evidence.Claim
	Supporting []evidence.Claim
	Rules      []kb.ComplianceRule
	Evidence   *evidence.Set
}

// Assessment is a Scorer's verdict on one match. Support is the evidential
// support fraction in [0,1]; Corroborated marks independent confirmation by
// an applicable compliance rule; Contradicted marks counter-evidence showing
// the suspected defect is already addressed.
type Assessment struct {
	Support      float64
	Corroborated bool
	Contradicted bool
	Rationale    string
}

// Scorer assesses one match. Blocking implementations honor ctx.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (Assessment, error)
}

// UnavailableError marks a transient backend failure: the evaluation did not
// happen and may succeed on retry. Anything else a Scorer returns is treated
// as a hard error.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("reason: %s backend unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Transient reports whether err is a retryable backend failure.
func Transient(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}
