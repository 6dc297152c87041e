package learn

import (
	"math"
	"testing"

	"rwaguard/internal/engine"
	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
)

func seedPattern(t *testing.T, s kb.Store, id string, weight float64) {
	t.Helper()
	err := s.PutPattern(kb.VulnerabilityPattern{
		PatternID: id,
		Category:  kb.CategoryOracle,
		Trigger: kb.TriggerSignature{Clauses: []kb.TriggerClause{
			{Modality: evidence.ModalityCode, MustContain: []string{"x"}},
		}},
		RequiredModalities: []evidence.Modality{evidence.ModalityCode},
		SeverityPrior:      0.5,
		ConfidenceWeight:   weight,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func weightOf(t *testing.T, s kb.Store, id string) float64 {
	t.Helper()
	p, err := s.GetPattern(id)
	if err != nil {
		t.Fatal(err)
	}
	return p.ConfidenceWeight
}

func TestReconcileNetTally(t *testing.T) {
	s := kb.NewMemStore()
	seedPattern(t, s, "p1", 0.5)
	seedPattern(t, s, "p2", 0.5)

	outcomes := []*engine.Hypothesis{
		{PatternID: "p1", Status: engine.StatusAccepted},
		{PatternID: "p1", Status: engine.StatusAccepted},
		{PatternID: "p1", Status: engine.StatusRejected},
		{PatternID: "p2", Status: engine.StatusRejected},
		{PatternID: "p2", Status: engine.StatusSuperseded}, // no signal
	}
	if err := NewReconciler(s).Reconcile("run-1", outcomes); err != nil {
		t.Fatal(err)
	}

	// p1 net +1 -> one increment; p2 net -1 -> one decrement
	if w := weightOf(t, s, "p1"); math.Abs(w-0.55) > 1e-9 {
		t.Errorf("p1 weight = %v, want 0.55", w)
	}
	if w := weightOf(t, s, "p2"); math.Abs(w-0.47) > 1e-9 {
		t.Errorf("p2 weight = %v, want 0.47", w)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	s := kb.NewMemStore()
	seedPattern(t, s, "p1", 0.5)
	r := NewReconciler(s)

	outcomes := []*engine.Hypothesis{{PatternID: "p1", Status: engine.StatusAccepted}}
	if err := r.Reconcile("run-1", outcomes); err != nil {
		t.Fatal(err)
	}
	if err := r.Reconcile("run-1", outcomes); err != nil {
		t.Fatal(err)
	}

	if w := weightOf(t, s, "p1"); math.Abs(w-0.55) > 1e-9 {
		t.Errorf("weight = %v after replay, want 0.55 (single application)", w)
	}
	hist, err := s.History("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Errorf("history length = %d, want 2 (insert + one batch)", len(hist))
	}
}

func TestReconcileExcludesDegraded(t *testing.T) {
	s := kb.NewMemStore()
	seedPattern(t, s, "p1", 0.5)

	outcomes := []*engine.Hypothesis{
		{PatternID: "p1", Status: engine.StatusRejected, StatusReason: engine.ReasonEvaluationUnavailable},
	}
	if err := NewReconciler(s).Reconcile("run-1", outcomes); err != nil {
		t.Fatal(err)
	}
	if w := weightOf(t, s, "p1"); w != 0.5 {
		t.Errorf("degraded rejection moved weight to %v", w)
	}

	// the run is still marked applied so a retry cannot double-count later
	applied, err := s.HasAppliedRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("run with only degraded outcomes should still be marked applied")
	}
}
