// Package learn closes the feedback loop: terminal hypothesis outcomes of a
// finished run are reconciled into one knowledge-base feedback batch. Feedback
// is strictly cross-run; a run never observes its own outcomes.
package learn

import (
	"fmt"
	"log/slog"
	"sort"

	"rwaguard/internal/engine"
	"rwaguard/internal/kb"
	"rwaguard/internal/logging"
)

// Reconciler turns run outcomes into knowledge-base feedback.
type Reconciler struct {
	store kb.Store
	log   *slog.Logger
}

// NewReconciler wraps a store.
func NewReconciler(store kb.Store) *Reconciler {
	return &Reconciler{store: store, log: logging.New("learn")}
}

// Reconcile applies one run's terminal outcomes, batched per pattern, exactly
// once. Re-reconciling an already-applied run is detected by run ID and
// skipped. Superseded hypotheses and degraded ones (rejected only because
// evaluation stayed unavailable) carry no signal and are excluded.
func (r *Reconciler) Reconcile(runID string, hypotheses []*engine.Hypothesis) error {
	if runID == "" {
		return fmt.Errorf("learn: empty run id")
	}
	applied, err := r.store.HasAppliedRun(runID)
	if err != nil {
		return fmt.Errorf("learn: check run %s: %w", runID, err)
	}
	if applied {
		r.log.Info("run already reconciled, skipping", "run", runID)
		return nil
	}

	net := make(map[string]int)
	for _, h := range hypotheses {
		switch h.Status {
		case engine.StatusAccepted:
			net[h.PatternID]++
		case engine.StatusRejected:
			if h.StatusReason == engine.ReasonEvaluationUnavailable {
				continue
			}
			net[h.PatternID]--
		}
	}

	patternIDs := make([]string, 0, len(net))
	for id := range net {
		patternIDs = append(patternIDs, id)
	}
	sort.Strings(patternIDs)

	// Net tallies: a pattern both accepted and rejected in one run moves only
	// by the surplus direction.
	batch := kb.FeedbackBatch{RunID: runID}
	for _, id := range patternIDs {
		n := net[id]
		accepted := n > 0
		if n < 0 {
			n = -n
		}
		for i := 0; i < n; i++ {
			batch.Outcomes = append(batch.Outcomes, kb.FeedbackOutcome{PatternID: id, Accepted: accepted})
		}
	}

	if err := r.store.ApplyFeedback(batch); err != nil {
		return fmt.Errorf("learn: apply feedback for run %s: %w", runID, err)
	}
	r.log.Info("feedback applied", "run", runID, "patterns", len(patternIDs), "outcomes", len(batch.Outcomes))
	return nil
}
