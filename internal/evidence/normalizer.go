package evidence

import (
	"fmt"
	"log/slog"

	"rwaguard/internal/logging"
)

// UnsupportedModalityError is returned when an artifact declares a modality
// with no registered extractor.
type UnsupportedModalityError struct {
	Modality Modality
}

func (e *UnsupportedModalityError) Error() string {
	return fmt.Sprintf("evidence: no extractor registered for modality %q", e.Modality)
}

// MalformedArtifactError is returned when extraction fails or yields zero
// claims. It is fatal to the artifact, not to the run.
type MalformedArtifactError struct {
	Name   string
	Reason string
	Err    error
}

func (e *MalformedArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evidence: malformed artifact %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("evidence: malformed artifact %q: %s", e.Name, e.Reason)
}

func (e *MalformedArtifactError) Unwrap() error { return e.Err }

// Extractor produces located claims from raw bytes of one modality.
// Extraction must be deterministic and must preserve document order.
type Extractor interface {
	Extract(name string, content []byte) ([]Claim, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(name string, content []byte) ([]Claim, error)

func (f ExtractorFunc) Extract(name string, content []byte) ([]Claim, error) {
	return f(name, content)
}

// Exclusion records one artifact dropped during normalization, for the run's
// diagnostics list.
type Exclusion struct {
	Artifact string
	Reason   string
}

// Normalizer converts artifacts into EvidenceUnits. It is modality-agnostic
// orchestration; the per-modality logic lives in registered extractors.
type Normalizer struct {
	extractors map[Modality]Extractor
	log        *slog.Logger
}

// NewNormalizer returns a Normalizer with the built-in extractors for all
// four modalities registered.
func NewNormalizer() *Normalizer {
	n := &Normalizer{
		extractors: make(map[Modality]Extractor),
		log:        logging.New("normalizer"),
	}
	n.Register(ModalityCode, &CodeExtractor{})
	n.Register(ModalityLegalText, &LegalTextExtractor{})
	n.Register(ModalityFinancialTable, &FinancialTableExtractor{})
	n.Register(ModalityReportText, &ReportTextExtractor{})
	return n
}

// Register installs (or replaces) the extractor for a modality.
func (n *Normalizer) Register(m Modality, e Extractor) {
	n.extractors[m] = e
}

// Normalize converts one artifact into an EvidenceUnit. The unit is immutable
// once returned; Normalize has no other side effects.
func (n *Normalizer) Normalize(a Artifact) (*EvidenceUnit, error) {
	ex, ok := n.extractors[a.Modality]
	if !ok {
		return nil, &UnsupportedModalityError{Modality: a.Modality}
	}
	claims, err := ex.Extract(a.Name, a.Content)
	if err != nil {
		return nil, &MalformedArtifactError{Name: a.Name, Reason: "extraction failed", Err: err}
	}
	if len(claims) == 0 {
		return nil, &MalformedArtifactError{Name: a.Name, Reason: "extraction yielded zero claims"}
	}
	return &EvidenceUnit{
		ID:        unitID(a),
		Modality:  a.Modality,
		AssetType: MapAssetType(a.AssetType),
		Claims:    claims,
	}, nil
}

// NormalizeAll normalizes a batch of artifacts. Per-artifact failures are
// contained: the failed artifact is excluded and recorded, the rest proceed.
// Unit order follows artifact order.
func (n *Normalizer) NormalizeAll(artifacts []Artifact) ([]*EvidenceUnit, []Exclusion) {
	var units []*EvidenceUnit
	var excluded []Exclusion
	for _, a := range artifacts {
		u, err := n.Normalize(a)
		if err != nil {
			n.log.Warn("artifact excluded", "artifact", a.Name, "modality", string(a.Modality), "error", err)
			excluded = append(excluded, Exclusion{Artifact: a.Name, Reason: err.Error()})
			continue
		}
		units = append(units, u)
	}
	return units, excluded
}
