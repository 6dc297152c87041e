package kb

import (
	"errors"
	"sort"
	"sync"
	"time"

	"rwaguard/internal/evidence"
)

// patternRecord pairs a pattern with its version history.
type patternRecord struct {
	pattern  VulnerabilityPattern
	versions []PatternVersion
}

// MemStore is the in-memory Store used by tests and single-shot CLI runs.
// A single mutex serializes writes; per-pattern granularity is unnecessary
// because feedback batches are already applied one run at a time.
type MemStore struct {
	mu       sync.RWMutex
	patterns map[string]*patternRecord
	rules    map[string]ComplianceRule
	runs     map[string]string // run_id -> applied_at
}

// NewMemStore returns an empty in-memory knowledge base.
func NewMemStore() *MemStore {
	return &MemStore{
		patterns: make(map[string]*patternRecord),
		rules:    make(map[string]ComplianceRule),
		runs:     make(map[string]string),
	}
}

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

func (s *MemStore) PutPattern(p VulnerabilityPattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.patterns[p.PatternID]; exists {
		return ErrPatternExists
	}
	s.patterns[p.PatternID] = &patternRecord{
		pattern: p,
		versions: []PatternVersion{{
			PatternID:        p.PatternID,
			Version:          1,
			ConfidenceWeight: p.ConfidenceWeight,
			AppliedAt:        nowUTC(),
		}},
	}
	return nil
}

func (s *MemStore) GetPattern(patternID string) (*VulnerabilityPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.patterns[patternID]
	if !ok {
		return nil, &UnknownPatternError{PatternID: patternID}
	}
	cp := rec.pattern
	return &cp, nil
}

func (s *MemStore) QueryPatterns(assetType evidence.AssetType, categories []Category) ([]VulnerabilityPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	catFilter := make(map[Category]bool, len(categories))
	for _, c := range categories {
		catFilter[c] = true
	}

	var out []VulnerabilityPattern
	for _, rec := range s.patterns {
		p := rec.pattern
		if p.Tombstoned {
			continue
		}
		if !p.AppliesTo(assetType) {
			continue
		}
		if len(catFilter) > 0 && !catFilter[p.Category] {
			continue
		}
		out = append(out, p)
	}
	sortPatterns(out)
	return out, nil
}

// sortPatterns ranks by confidence weight descending, pattern ID ascending.
func sortPatterns(ps []VulnerabilityPattern) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].ConfidenceWeight != ps[j].ConfidenceWeight {
			return ps[i].ConfidenceWeight > ps[j].ConfidenceWeight
		}
		return ps[i].PatternID < ps[j].PatternID
	})
}

func (s *MemStore) PutRule(r ComplianceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.RuleID] = r
	return nil
}

func (s *MemStore) QueryRules(assetType evidence.AssetType) ([]ComplianceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ComplianceRule
	for _, r := range s.rules {
		if r.AssetType == assetType || r.AssetType == evidence.AssetUnknown {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

func (s *MemStore) ApplyFeedback(batch FeedbackBatch) error {
	return s.applyFeedback(batch, DefaultFeedbackPolicy())
}

// ApplyFeedbackWithPolicy applies a batch under a non-default policy.
func (s *MemStore) ApplyFeedbackWithPolicy(batch FeedbackBatch, policy FeedbackPolicy) error {
	return s.applyFeedback(batch, policy)
}

func (s *MemStore) applyFeedback(batch FeedbackBatch, policy FeedbackPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unknown []error
	touched := make(map[string]bool)

	for _, o := range batch.Outcomes {
		rec, ok := s.patterns[o.PatternID]
		if !ok {
			unknown = append(unknown, &UnknownPatternError{PatternID: o.PatternID})
			continue
		}
		if !rec.pattern.Tombstoned {
			rec.pattern.ConfidenceWeight = policy.apply(rec.pattern.ConfidenceWeight, o.Accepted)
		}
		touched[o.PatternID] = true
	}

	at := nowUTC()
	for id := range touched {
		rec := s.patterns[id]
		rec.versions = append(rec.versions, PatternVersion{
			PatternID:        id,
			Version:          len(rec.versions) + 1,
			ConfidenceWeight: rec.pattern.ConfidenceWeight,
			RunID:            batch.RunID,
			AppliedAt:        at,
		})
	}
	if batch.RunID != "" {
		s.runs[batch.RunID] = at
	}
	return errors.Join(unknown...)
}

func (s *MemStore) HasAppliedRun(runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.runs[runID]
	return ok, nil
}

func (s *MemStore) Tombstone(patternID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.patterns[patternID]
	if !ok {
		return &UnknownPatternError{PatternID: patternID}
	}
	rec.pattern.Tombstoned = true
	return nil
}

func (s *MemStore) History(patternID string) ([]PatternVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.patterns[patternID]
	if !ok {
		return nil, &UnknownPatternError{PatternID: patternID}
	}
	out := make([]PatternVersion, len(rec.versions))
	copy(out, rec.versions)
	return out, nil
}
