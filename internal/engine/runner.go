package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rwaguard/internal/evidence"
	"rwaguard/internal/kb"
	"rwaguard/internal/logging"
	"rwaguard/internal/reason"
)

// Config bounds one analysis run.
type Config struct {
	Threshold float64
	MaxRounds int
	WallClock time.Duration
	Workers   int
	Retries   int
	Backoff   time.Duration
}

// DefaultConfig returns the run bounds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		MaxRounds: 3,
		WallClock: 2 * time.Minute,
		Workers:   4,
		Retries:   2,
		Backoff:   200 * time.Millisecond,
	}
}

// categoryUnlocks is the static dependency map driving loop continuation:
// accepting a hypothesis of the key category unlocks the value category for
// the next round. A compliance bypass motivates checking how the asset is
// mapped; a broken mapping or manipulable oracle motivates checking the
// business logic built on top of it.
var categoryUnlocks = map[kb.Category]kb.Category{
	kb.CategoryComplianceBypass: kb.CategoryAssetMapping,
	kb.CategoryOracle:           kb.CategoryBusinessLogic,
	kb.CategoryAssetMapping:     kb.CategoryBusinessLogic,
}

// initialCategories are the entry points of the dependency graph, explored
// in round zero.
func initialCategories() []kb.Category {
	return []kb.Category{kb.CategoryComplianceBypass, kb.CategoryOracle}
}

// Engine drives the Propose -> Validate -> Reconcile loop over a knowledge
// base snapshot fixed at run start.
type Engine struct {
	store   kb.Store
	matcher reason.Matcher
	scorer  reason.Scorer
	cfg     Config
	log     *slog.Logger
}

// New assembles an engine. The matcher must be deterministic; the scorer may
// be the rule engine or a model backend.
func New(store kb.Store, matcher reason.Matcher, scorer reason.Scorer, cfg Config) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultConfig().MaxRounds
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	return &Engine{
		store:   store,
		matcher: matcher,
		scorer:  scorer,
		cfg:     cfg,
		log:     logging.New("engine"),
	}
}

// Run normalizes the artifacts and executes the adversarial loop. Per-artifact
// and per-hypothesis failures are contained and reported in Diagnostics; only
// a complete absence of usable evidence fails the run (ErrNoEvidence).
func (e *Engine) Run(ctx context.Context, artifacts []evidence.Artifact) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := e.log.With("run", runID)

	normalizer := evidence.NewNormalizer()
	units, excluded := normalizer.NormalizeAll(artifacts)
	if len(units) == 0 {
		return nil, ErrNoEvidence
	}
	ev := evidence.NewSet(units)

	assetType := evidence.AssetUnknown
	for _, u := range ev.Units() {
		if u.AssetType != evidence.AssetUnknown {
			assetType = u.AssetType
			break
		}
	}

	// KB snapshot fixed for the whole run: this run's own outcomes feed back
	// only between runs.
	patterns, err := e.store.QueryPatterns(assetType, nil)
	if err != nil {
		return nil, err
	}
	rules, err := e.store.QueryRules(assetType)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]kb.VulnerabilityPattern, len(patterns))
	for _, p := range patterns {
		byID[p.PatternID] = p
	}
	log.Info("run started", "asset_type", assetType,
		"units", ev.Len(), "patterns", len(patterns), "rules", len(rules))

	discriminator := NewDiscriminator(e.scorer, e.cfg.Threshold)
	generator := NewGenerator(e.matcher)

	res := &Result{
		RunID:       runID,
		AssetType:   assetType,
		Diagnostics: Diagnostics{Excluded: excluded},
	}

	active := initialCategories()
	explored := make(map[kb.Category]bool)
	seenKeys := make(map[string]bool)
	acceptedKeys := make(map[string]bool)
	var accepted []*Hypothesis

	for round := 0; ; round++ {
		// cooperative budget checks at the top of each round
		if round >= e.cfg.MaxRounds {
			res.Diagnostics.TerminalReason = TerminalRoundBudget
			break
		}
		if e.cfg.WallClock > 0 && time.Since(start) > e.cfg.WallClock {
			res.Diagnostics.TerminalReason = TerminalWallClock
			break
		}
		if ctx.Err() != nil {
			res.Diagnostics.TerminalReason = TerminalCancelled
			break
		}

		var roundPatterns []kb.VulnerabilityPattern
		for _, p := range patterns {
			for _, c := range active {
				if p.Category == c {
					roundPatterns = append(roundPatterns, p)
					break
				}
			}
		}
		for _, c := range active {
			explored[c] = true
		}

		proposed, err := generator.Propose(ctx, roundPatterns, ev, round)
		if err != nil {
			res.Diagnostics.TerminalReason = TerminalCancelled
			break
		}

		// Reconcile duplicates before validation: a key already accepted is
		// superseded by the standing acceptance, a key already evaluated is
		// not a new proposal at all.
		var fresh []*Hypothesis
		for _, h := range proposed {
			if acceptedKeys[h.Key()] {
				h.Status = StatusSuperseded
				res.Hypotheses = append(res.Hypotheses, h)
				res.Metrics.Superseded++
				continue
			}
			if seenKeys[h.Key()] {
				continue
			}
			seenKeys[h.Key()] = true
			fresh = append(fresh, h)
		}
		if len(fresh) == 0 {
			res.Diagnostics.TerminalReason = TerminalNoNewHypotheses
			break
		}
		res.Metrics.Proposed += len(fresh)

		e.validate(ctx, discriminator, fresh, byID, rules, ev)

		unlocked := false
		for _, h := range fresh {
			res.Hypotheses = append(res.Hypotheses, h)
			switch h.Status {
			case StatusAccepted:
				res.Metrics.Accepted++
				acceptedKeys[h.Key()] = true
				accepted = append(accepted, h)
				if dep, ok := categoryUnlocks[h.Category]; ok && !explored[dep] {
					unlocked = true
				}
			case StatusRejected:
				res.Metrics.Rejected++
				if h.StatusReason == ReasonEvaluationUnavailable {
					res.Metrics.Degraded++
					res.Diagnostics.Degraded = append(res.Diagnostics.Degraded, h.ID)
				}
			default:
				// cancellation mid-validate leaves hypotheses proposed
			}
		}
		res.Metrics.RoundsUsed = round + 1

		if ctx.Err() != nil {
			res.Diagnostics.TerminalReason = TerminalCancelled
			break
		}
		if !unlocked {
			res.Diagnostics.TerminalReason = TerminalNoUnlock
			break
		}

		var next []kb.Category
		for _, h := range fresh {
			if h.Status != StatusAccepted {
				continue
			}
			if dep, ok := categoryUnlocks[h.Category]; ok && !explored[dep] {
				already := false
				for _, c := range next {
					if c == dep {
						already = true
						break
					}
				}
				if !already {
					next = append(next, dep)
				}
			}
		}
		active = next
	}

	for _, h := range accepted {
		res.Findings = append(res.Findings, newFinding(h, byID[h.PatternID]))
	}
	sortFindings(res.Findings)
	res.Metrics.WallTime = time.Since(start)

	log.Info("run finished",
		"findings", len(res.Findings),
		"rounds", res.Metrics.RoundsUsed,
		"terminal", res.Diagnostics.TerminalReason,
		"degraded", res.Metrics.Degraded)
	return res, nil
}

// validate evaluates one round's hypotheses over a bounded worker pool.
// Each worker owns its hypothesis; the evidence set and pattern snapshot are
// read-only, so no locking is needed.
func (e *Engine) validate(ctx context.Context, d *Discriminator, hs []*Hypothesis, byID map[string]kb.VulnerabilityPattern, rules []kb.ComplianceRule, ev *evidence.Set) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for _, h := range hs {
		h := h
		g.Go(func() error {
			err := e.evaluateWithRetry(ctx, d, h, byID[h.PatternID], rules, ev)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				// abandoned in flight, stays proposed
				return nil
			}
			h.Status = StatusRejected
			h.StatusReason = ReasonEvaluationUnavailable
			e.log.Warn("hypothesis degraded", "hypothesis", h.ID, "err", err)
			return nil
		})
	}
	_ = g.Wait()
}

// evaluateWithRetry retries transient scorer failures with exponential
// backoff. Hard failures return immediately.
func (e *Engine) evaluateWithRetry(ctx context.Context, d *Discriminator, h *Hypothesis, p kb.VulnerabilityPattern, rules []kb.ComplianceRule, ev *evidence.Set) error {
	backoff := e.cfg.Backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = d.Evaluate(ctx, h, p, rules, ev)
		if err == nil {
			return nil
		}
		if !reason.Transient(err) || attempt >= e.cfg.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
