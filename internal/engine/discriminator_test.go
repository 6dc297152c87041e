package engine

import (
	"context"
	"math"
	"testing"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
	"rwaguard/internal/reason"
)

// fixedScorer returns the same assessment every time.
type fixedScorer struct {
	a reason.Assessment
}

func (f *fixedScorer) Score(ctx context.Context, req reason.ScoreRequest) (reason.Assessment, error) {
	return f.a, nil
}

func boundaryPattern() kb.VulnerabilityPattern {
	return kb.VulnerabilityPattern{
		PatternID: "p",
		Category:  kb.CategoryOracle,
		Trigger: kb.TriggerSignature{Clauses: []kb.TriggerClause{
			{Modality: evidence.ModalityCode, MustContain: []string{"x"}},
		}},
		RequiredModalities: []evidence.Modality{evidence.ModalityCode},
		SeverityPrior:      0.5,
		ConfidenceWeight:   0.5,
	}
}

func TestThresholdInclusive(t *testing.T) {
	p := boundaryPattern()
	// conf = 0.35*0.5 + 0.25*0.5 + 0.40*support = 0.30 + 0.40*support
	// support 0.5 lands exactly on a 0.50 threshold
	d := NewDiscriminator(&fixedScorer{a: reason.Assessment{Support: 0.5}}, 0.5)

	h := &Hypothesis{ID: "h", PatternID: "p", Status: StatusProposed}
	if err := d.Evaluate(context.Background(), h, p, nil, nil); err != nil {
		t.Fatal(err)
	}
	if math.Abs(h.Confidence-0.5) > 1e-9 {
		t.Fatalf("confidence = %v, want exactly 0.5", h.Confidence)
	}
	if h.Status != StatusAccepted {
		t.Error("confidence exactly at threshold must be accepted")
	}

	// one step below rejects
	d = NewDiscriminator(&fixedScorer{a: reason.Assessment{Support: 0.4999}}, 0.5)
	h = &Hypothesis{ID: "h2", PatternID: "p", Status: StatusProposed}
	if err := d.Evaluate(context.Background(), h, p, nil, nil); err != nil {
		t.Fatal(err)
	}
	if h.Status != StatusRejected {
		t.Errorf("confidence %v below threshold must be rejected", h.Confidence)
	}
}

func TestContradictionPenalty(t *testing.T) {
	p := boundaryPattern()
	d := NewDiscriminator(&fixedScorer{a: reason.Assessment{Support: 1.0, Contradicted: true}}, 0.5)

	h := &Hypothesis{ID: "h", PatternID: "p", Status: StatusProposed}
	if err := d.Evaluate(context.Background(), h, p, nil, nil); err != nil {
		t.Fatal(err)
	}
	// 0.30 + 0.40 - 0.30 = 0.40 < 0.50
	if h.Status != StatusRejected {
		t.Errorf("contradicted hypothesis accepted at confidence %v", h.Confidence)
	}
}

func TestConfidenceClamped(t *testing.T) {
	p := boundaryPattern()
	p.SeverityPrior = 1.0
	p.ConfidenceWeight = 1.0
	d := NewDiscriminator(&fixedScorer{a: reason.Assessment{Support: 1.0, Corroborated: true}}, 0.5)

	h := &Hypothesis{ID: "h", PatternID: "p", Status: StatusProposed}
	if err := d.Evaluate(context.Background(), h, p, nil, nil); err != nil {
		t.Fatal(err)
	}
	if h.Confidence > 1.0 {
		t.Errorf("confidence %v exceeds 1.0", h.Confidence)
	}

	p.SeverityPrior = 0
	p.ConfidenceWeight = 0
	d = NewDiscriminator(&fixedScorer{a: reason.Assessment{Support: 0, Contradicted: true}}, 0.5)
	h = &Hypothesis{ID: "h2", PatternID: "p", Status: StatusProposed}
	if err := d.Evaluate(context.Background(), h, p, nil, nil); err != nil {
		t.Fatal(err)
	}
	if h.Confidence < 0 {
		t.Errorf("confidence %v below 0", h.Confidence)
	}
}
