package engine

import (
	"context"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
	"rwaguard/internal/reason"
)

// Confidence combination weights. Prior and learned weight together carry
// less than the evidential support term so that what the evidence actually
// shows dominates what the catalog expects.
const (
	weightPrior          = 0.35
	weightConfidence     = 0.25
	weightSupport        = 0.40
	corroborationBonus   = 0.05
	contradictionPenalty = 0.30
)

// DefaultThreshold is the inclusive acceptance threshold.
const DefaultThreshold = 0.7

// Discriminator validates proposed hypotheses. It never touches the
// knowledge base; outcomes flow back only through the learning reconciler.
type Discriminator struct {
	scorer    reason.Scorer
	threshold float64
}

// NewDiscriminator wraps a scorer with an acceptance threshold.
func NewDiscriminator(s reason.Scorer, threshold float64) *Discriminator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Discriminator{scorer: s, threshold: threshold}
}

// Evaluate scores one proposed hypothesis and sets its terminal status.
// Confidence >= threshold accepts (the threshold is inclusive). The scorer
// error, if any, is returned with the hypothesis left proposed so the caller
// can retry.
func (d *Discriminator) Evaluate(ctx context.Context, h *Hypothesis, p kb.VulnerabilityPattern, rules []kb.ComplianceRule, ev *evidence.Set) error {
	a, err := d.scorer.Score(ctx, reason.ScoreRequest{
		Pattern:    p,
		Target:     h.Target,
		Anchor:     h.anchor,
		Supporting: h.supporting,
		Rules:      rules,
		Evidence:   ev,
	})
	if err != nil {
		return err
	}

	conf := weightPrior*p.SeverityPrior + weightConfidence*p.ConfidenceWeight + weightSupport*a.Support
	if a.Corroborated {
		conf += corroborationBonus
	}
	if a.Contradicted {
		conf -= contradictionPenalty
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	h.Confidence = conf
	h.Rationale = a.Rationale
	if conf >= d.threshold {
		h.Status = StatusAccepted
	} else {
		h.Status = StatusRejected
	}
	return nil
}
