// Package evidence defines the normalized evidence model shared by the whole
// audit pipeline: every input artifact, whatever its source modality, is
// reduced to an EvidenceUnit holding an ordered sequence of located claims.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Modality is the source modality of an evidence unit. The set is closed;
// consumers switch exhaustively over these values rather than subclassing.
type Modality string

const (
	ModalityCode           Modality = "code"
	ModalityLegalText      Modality = "legal_text"
	ModalityFinancialTable Modality = "financial_table"
	ModalityReportText     Modality = "report_text"
)

// Known reports whether m is one of the four supported modalities.
func (m Modality) Known() bool {
	switch m {
	case ModalityCode, ModalityLegalText, ModalityFinancialTable, ModalityReportText:
		return true
	}
	return false
}

// AssetType classifies the underlying real-world asset a token represents.
type AssetType string

const (
	AssetRealEstate     AssetType = "real_estate"
	AssetCorporateBonds AssetType = "corporate_bonds"
	AssetGovernmentBond AssetType = "government_bonds"
	AssetCommodities    AssetType = "commodities"
	AssetPreciousMetals AssetType = "precious_metals"
	AssetEquity         AssetType = "equity_securities"
	AssetCarbonCredits  AssetType = "carbon_credits"
	AssetIP             AssetType = "intellectual_property"
	AssetUnknown        AssetType = "unknown"
)

// assetTypeVocabulary maps free-text asset descriptions to canonical types.
var assetTypeVocabulary = []struct {
	keyword string
	typ     AssetType
}{
	{"real estate", AssetRealEstate},
	{"real_estate", AssetRealEstate},
	{"property", AssetRealEstate},
	{"government bond", AssetGovernmentBond},
	{"treasury", AssetGovernmentBond},
	{"corporate bond", AssetCorporateBonds},
	{"bond", AssetCorporateBonds},
	{"gold", AssetPreciousMetals},
	{"silver", AssetPreciousMetals},
	{"platinum", AssetPreciousMetals},
	{"metal", AssetPreciousMetals},
	{"commodity", AssetCommodities},
	{"carbon", AssetCarbonCredits},
	{"patent", AssetIP},
	{"trademark", AssetIP},
	{"copyright", AssetIP},
	{"equity", AssetEquity},
	{"stock", AssetEquity},
	{"etf", AssetEquity},
}

// MapAssetType resolves a free-text asset tag ("Commercial Real Estate",
// "US Treasury", ...) to a canonical AssetType. Unrecognized input maps to
// AssetUnknown rather than failing: asset typing narrows pattern selection
// but never blocks an audit.
func MapAssetType(tag string) AssetType {
	s := strings.ToLower(strings.TrimSpace(tag))
	if s == "" {
		return AssetUnknown
	}
	for _, entry := range assetTypeVocabulary {
		if strings.Contains(s, entry.keyword) {
			return entry.typ
		}
	}
	return AssetUnknown
}

// Locator ties a claim back to its origin for traceability.
// Line is 1-based; zero means not line-addressable. Cell is "row:col" for
// tabular sources and empty otherwise.
type Locator struct {
	File string `json:"file" yaml:"file"`
	Line int    `json:"line,omitempty" yaml:"line,omitempty"`
	Cell string `json:"cell,omitempty" yaml:"cell,omitempty"`
}

func (l Locator) String() string {
	switch {
	case l.Cell != "":
		return fmt.Sprintf("%s!%s", l.File, l.Cell)
	case l.Line > 0:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// Claim is one extracted statement plus the locator of its origin.
type Claim struct {
	Text string  `json:"text"`
	Loc  Locator `json:"loc"`
}

// Artifact is one raw input handed to the normalizer.
type Artifact struct {
	Name      string
	Modality  Modality
	AssetType string // free-text tag, mapped via MapAssetType
	Content   []byte
}

// EvidenceUnit is the canonical normalized form of one artifact.
// Units are immutable once created; claims preserve document order.
type EvidenceUnit struct {
	ID        string
	Modality  Modality
	AssetType AssetType
	Claims    []Claim
}

// ContainsTerm reports whether any claim text contains term, case-folded.
func (u *EvidenceUnit) ContainsTerm(term string) bool {
	t := strings.ToLower(term)
	for _, c := range u.Claims {
		if strings.Contains(strings.ToLower(c.Text), t) {
			return true
		}
	}
	return false
}

// unitID derives a deterministic unit ID from the artifact identity so that
// normalizing the same artifact twice yields the same unit.
func unitID(a Artifact) string {
	h := sha256.New()
	h.Write([]byte(a.Modality))
	h.Write([]byte{0})
	h.Write([]byte(a.Name))
	h.Write([]byte{0})
	h.Write(a.Content)
	return "ev-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Set is the evidence of one analysis run: insertion-ordered units with
// modality and ID indexes. A Set is assembled once per run and read-only
// afterwards.
type Set struct {
	units      []*EvidenceUnit
	byID       map[string]*EvidenceUnit
	byModality map[Modality][]*EvidenceUnit
}

// NewSet builds a Set preserving the given unit order.
func NewSet(units []*EvidenceUnit) *Set {
	s := &Set{
		byID:       make(map[string]*EvidenceUnit, len(units)),
		byModality: make(map[Modality][]*EvidenceUnit),
	}
	for _, u := range units {
		if u == nil {
			continue
		}
		if _, dup := s.byID[u.ID]; dup {
			continue
		}
		s.units = append(s.units, u)
		s.byID[u.ID] = u
		s.byModality[u.Modality] = append(s.byModality[u.Modality], u)
	}
	return s
}

// Len returns the number of units in the set.
func (s *Set) Len() int { return len(s.units) }

// Units returns all units in insertion order.
func (s *Set) Units() []*EvidenceUnit { return s.units }

// Get returns the unit with the given ID, or nil.
func (s *Set) Get(id string) *EvidenceUnit { return s.byID[id] }

// ByModality returns the units of one modality in insertion order.
func (s *Set) ByModality(m Modality) []*EvidenceUnit { return s.byModality[m] }

// HasModalities reports whether every listed modality has at least one unit.
func (s *Set) HasModalities(ms []Modality) bool {
	for _, m := range ms {
		if len(s.byModality[m]) == 0 {
			return false
		}
	}
	return true
}
