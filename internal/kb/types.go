// Package kb is the versioned knowledge base of vulnerability patterns and
// compliance rules. Reads are snapshot-consistent per analysis run; the only
// mutation path is ApplyFeedback, plus explicit administrative tombstoning.
package kb

import (
	"fmt"
	"strings"

	"rwaguard/internal/evidence"
)

// Category classifies a vulnerability pattern.
type Category string

const (
	CategoryComplianceBypass Category = "compliance-bypass"
	CategoryAssetMapping     Category = "asset-mapping-error"
	CategoryOracle           Category = "oracle-manipulation"
	CategoryBusinessLogic    Category = "business-logic-flaw"
)

// Categories lists all known categories in a fixed order.
func Categories() []Category {
	return []Category{
		CategoryComplianceBypass,
		CategoryAssetMapping,
		CategoryOracle,
		CategoryBusinessLogic,
	}
}

// TriggerClause is one predicate over the claims of a single modality.
// MustContain terms must each appear in at least one claim of that modality;
// MustNotContain terms must appear in none. A clause with only MustNotContain
// expresses an absence condition. Matching is case-folded substring search.
type TriggerClause struct {
	Modality       evidence.Modality `yaml:"modality" json:"modality"`
	MustContain    []string          `yaml:"must_contain,omitempty" json:"must_contain,omitempty"`
	MustNotContain []string          `yaml:"must_not_contain,omitempty" json:"must_not_contain,omitempty"`
	// Anchor marks the clause whose matching claim supplies the hypothesis
	// target locator. At most one clause is the anchor; when none is marked,
	// the first clause anchors.
	Anchor bool `yaml:"anchor,omitempty" json:"anchor,omitempty"`
}

// TriggerSignature is the conjunctive trigger predicate of a pattern:
// every clause must hold for the pattern to fire.
type TriggerSignature struct {
	Clauses []TriggerClause `yaml:"clauses" json:"clauses"`
}

// AnchorClause returns the clause that supplies target locators.
func (t TriggerSignature) AnchorClause() *TriggerClause {
	for i := range t.Clauses {
		if t.Clauses[i].Anchor {
			return &t.Clauses[i]
		}
	}
	if len(t.Clauses) > 0 {
		return &t.Clauses[0]
	}
	return nil
}

// VulnerabilityPattern is a reusable template describing how one vulnerability
// category manifests in evidence. ConfidenceWeight is the only field the
// feedback loop mutates; everything else is fixed at insertion.
type VulnerabilityPattern struct {
	PatternID          string              `yaml:"pattern_id" json:"pattern_id"`
	Category           Category            `yaml:"category" json:"category"`
	Title              string              `yaml:"title" json:"title"`
	Trigger            TriggerSignature    `yaml:"trigger" json:"trigger"`
	RequiredModalities []evidence.Modality `yaml:"required_modalities" json:"required_modalities"`
	SeverityPrior      float64             `yaml:"severity_prior" json:"severity_prior"`
	ConfidenceWeight   float64             `yaml:"confidence_weight" json:"confidence_weight"`
	Mitigation         string              `yaml:"mitigation" json:"mitigation"`
	CaseReference      string              `yaml:"case_reference,omitempty" json:"case_reference,omitempty"`
	// AssetTypes restricts the pattern to specific asset classes; empty
	// means the pattern applies to every asset type.
	AssetTypes []evidence.AssetType `yaml:"asset_types,omitempty" json:"asset_types,omitempty"`
	Tombstoned bool                 `yaml:"tombstoned,omitempty" json:"tombstoned,omitempty"`
}

// AppliesTo reports whether the pattern covers the given asset type.
func (p VulnerabilityPattern) AppliesTo(at evidence.AssetType) bool {
	if len(p.AssetTypes) == 0 {
		return true
	}
	for _, t := range p.AssetTypes {
		if t == at {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of a pattern before insertion.
func (p VulnerabilityPattern) Validate() error {
	if strings.TrimSpace(p.PatternID) == "" {
		return fmt.Errorf("kb: pattern has empty pattern_id")
	}
	switch p.Category {
	case CategoryComplianceBypass, CategoryAssetMapping, CategoryOracle, CategoryBusinessLogic:
	default:
		return fmt.Errorf("kb: pattern %s has unknown category %q", p.PatternID, p.Category)
	}
	if len(p.RequiredModalities) == 0 {
		return fmt.Errorf("kb: pattern %s requires no modalities", p.PatternID)
	}
	for _, m := range p.RequiredModalities {
		if !m.Known() {
			return fmt.Errorf("kb: pattern %s requires unknown modality %q", p.PatternID, m)
		}
	}
	if len(p.Trigger.Clauses) == 0 {
		return fmt.Errorf("kb: pattern %s has an empty trigger", p.PatternID)
	}
	if p.SeverityPrior < 0 || p.SeverityPrior > 1 {
		return fmt.Errorf("kb: pattern %s severity_prior %.2f outside [0,1]", p.PatternID, p.SeverityPrior)
	}
	if p.ConfidenceWeight < 0 || p.ConfidenceWeight > 1 {
		return fmt.Errorf("kb: pattern %s confidence_weight %.2f outside [0,1]", p.PatternID, p.ConfidenceWeight)
	}
	return nil
}

// ComplianceRule is one regulatory obligation applicable to an asset type.
// Rules are consumed read-only by the generator and discriminator.
type ComplianceRule struct {
	RuleID     string            `yaml:"rule_id" json:"rule_id"`
	AssetType  evidence.AssetType `yaml:"asset_type" json:"asset_type"`
	Obligation string            `yaml:"obligation" json:"obligation"`
	Loc        evidence.Locator  `yaml:"locator,omitempty" json:"locator,omitempty"`
}
