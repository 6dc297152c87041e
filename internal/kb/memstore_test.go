package kb

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rwaguard/internal/evidence"
)

func testPattern(id string, category Category, weight float64) VulnerabilityPattern {
	return VulnerabilityPattern{
		PatternID: id,
		Category:  category,
		Title:     "test " + id,
		Trigger: TriggerSignature{Clauses: []TriggerClause{
			{Modality: evidence.ModalityCode, MustContain: []string{"x"}},
		}},
		RequiredModalities: []evidence.Modality{evidence.ModalityCode},
		SeverityPrior:      0.5,
		ConfidenceWeight:   weight,
	}
}

func TestPutPatternValidation(t *testing.T) {
	s := NewMemStore()

	bad := testPattern("p1", Category("made-up"), 0.5)
	if err := s.PutPattern(bad); err == nil {
		t.Fatal("expected validation error for unknown category")
	}

	good := testPattern("p1", CategoryOracle, 0.5)
	if err := s.PutPattern(good); err != nil {
		t.Fatalf("PutPattern: %v", err)
	}
	if err := s.PutPattern(good); !errors.Is(err, ErrPatternExists) {
		t.Fatalf("duplicate insert: got %v, want ErrPatternExists", err)
	}
}

func TestQueryPatternsRanking(t *testing.T) {
	s := NewMemStore()
	for _, p := range []VulnerabilityPattern{
		testPattern("b-mid", CategoryOracle, 0.6),
		testPattern("a-tied", CategoryOracle, 0.8),
		testPattern("c-tied", CategoryBusinessLogic, 0.8),
		testPattern("d-low", CategoryOracle, 0.2),
	} {
		if err := s.PutPattern(p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.QueryPatterns(evidence.AssetUnknown, nil)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, p := range got {
		ids = append(ids, p.PatternID)
	}
	want := []string{"a-tied", "c-tied", "b-mid", "d-low"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}

	oracleOnly, err := s.QueryPatterns(evidence.AssetUnknown, []Category{CategoryOracle})
	if err != nil {
		t.Fatal(err)
	}
	if len(oracleOnly) != 3 {
		t.Errorf("category filter returned %d patterns, want 3", len(oracleOnly))
	}
}

func TestQueryPatternsAssetTypeFilter(t *testing.T) {
	s := NewMemStore()
	scoped := testPattern("re-only", CategoryAssetMapping, 0.5)
	scoped.AssetTypes = []evidence.AssetType{evidence.AssetRealEstate}
	open := testPattern("any", CategoryAssetMapping, 0.5)
	for _, p := range []VulnerabilityPattern{scoped, open} {
		if err := s.PutPattern(p); err != nil {
			t.Fatal(err)
		}
	}

	gold, err := s.QueryPatterns(evidence.AssetPreciousMetals, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(gold) != 1 || gold[0].PatternID != "any" {
		t.Errorf("precious metals query = %+v, want only 'any'", gold)
	}
	re, err := s.QueryPatterns(evidence.AssetRealEstate, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(re) != 2 {
		t.Errorf("real estate query returned %d patterns, want 2", len(re))
	}
}

func TestApplyFeedbackBounds(t *testing.T) {
	s := NewMemStore()
	if err := s.PutPattern(testPattern("hi", CategoryOracle, 0.98)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPattern(testPattern("lo", CategoryOracle, 0.06)); err != nil {
		t.Fatal(err)
	}

	if err := s.ApplyFeedback(FeedbackBatch{RunID: "run-1", Outcomes: []FeedbackOutcome{
		{PatternID: "hi", Accepted: true},
		{PatternID: "lo", Accepted: false},
	}}); err != nil {
		t.Fatal(err)
	}

	hi, _ := s.GetPattern("hi")
	if hi.ConfidenceWeight != 1.0 {
		t.Errorf("hi weight = %v, want capped at 1.0", hi.ConfidenceWeight)
	}
	lo, _ := s.GetPattern("lo")
	if lo.ConfidenceWeight != 0.05 {
		t.Errorf("lo weight = %v, want floored at 0.05", lo.ConfidenceWeight)
	}

	// the floor retains the pattern: still queryable and still rankable
	got, err := s.QueryPatterns(evidence.AssetUnknown, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("decayed pattern dropped from query: %d patterns", len(got))
	}
}

func TestApplyFeedbackUnknownPatternPartial(t *testing.T) {
	s := NewMemStore()
	if err := s.PutPattern(testPattern("known", CategoryOracle, 0.5)); err != nil {
		t.Fatal(err)
	}

	err := s.ApplyFeedback(FeedbackBatch{RunID: "run-2", Outcomes: []FeedbackOutcome{
		{PatternID: "known", Accepted: true},
		{PatternID: "ghost", Accepted: true},
	}})
	var unknown *UnknownPatternError
	if !errors.As(err, &unknown) || unknown.PatternID != "ghost" {
		t.Fatalf("expected UnknownPatternError for ghost, got %v", err)
	}

	// the known outcome still applied
	p, _ := s.GetPattern("known")
	if math.Abs(p.ConfidenceWeight-0.55) > 1e-9 {
		t.Errorf("known weight = %v, want 0.55", p.ConfidenceWeight)
	}
	applied, _ := s.HasAppliedRun("run-2")
	if !applied {
		t.Error("run should be recorded even with partial failures")
	}
}

func TestFeedbackVersionHistory(t *testing.T) {
	s := NewMemStore()
	if err := s.PutPattern(testPattern("p", CategoryOracle, 0.5)); err != nil {
		t.Fatal(err)
	}

	batches := []FeedbackBatch{
		{RunID: "r1", Outcomes: []FeedbackOutcome{{PatternID: "p", Accepted: true}}},
		{RunID: "r2", Outcomes: []FeedbackOutcome{{PatternID: "p", Accepted: false}}},
	}
	for _, b := range batches {
		if err := s.ApplyFeedback(b); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := s.History("p")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3 (insert + 2 batches)", len(hist))
	}
	for i, v := range hist {
		if v.Version != i+1 {
			t.Errorf("version[%d] = %d, want %d", i, v.Version, i+1)
		}
	}
	if hist[1].RunID != "r1" || hist[2].RunID != "r2" {
		t.Errorf("run attribution wrong: %+v", hist)
	}
	if math.Abs(hist[2].ConfidenceWeight-0.52) > 1e-9 {
		t.Errorf("final weight = %v, want 0.52", hist[2].ConfidenceWeight)
	}
}

func TestFeedbackBatchTouchesPatternOnce(t *testing.T) {
	s := NewMemStore()
	if err := s.PutPattern(testPattern("p", CategoryOracle, 0.5)); err != nil {
		t.Fatal(err)
	}
	// two outcomes for the same pattern in one batch: weight moves twice,
	// but only one version record is appended
	if err := s.ApplyFeedback(FeedbackBatch{RunID: "r", Outcomes: []FeedbackOutcome{
		{PatternID: "p", Accepted: true},
		{PatternID: "p", Accepted: true},
	}}); err != nil {
		t.Fatal(err)
	}
	hist, _ := s.History("p")
	if len(hist) != 2 {
		t.Errorf("history length = %d, want 2", len(hist))
	}
	if math.Abs(hist[1].ConfidenceWeight-0.6) > 1e-9 {
		t.Errorf("weight after double-accept = %v, want 0.6", hist[1].ConfidenceWeight)
	}
}

func TestTombstone(t *testing.T) {
	s := NewMemStore()
	if err := s.PutPattern(testPattern("dead", CategoryOracle, 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := s.Tombstone("dead"); err != nil {
		t.Fatal(err)
	}
	if err := s.Tombstone("missing"); err == nil {
		t.Error("tombstoning an unknown pattern should fail")
	}

	got, err := s.QueryPatterns(evidence.AssetUnknown, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("tombstoned pattern still ranked: %+v", got)
	}

	// still inspectable
	p, err := s.GetPattern("dead")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Tombstoned {
		t.Error("GetPattern should report tombstoned state")
	}

	// feedback records an audit version without moving the weight
	if err := s.ApplyFeedback(FeedbackBatch{RunID: "r", Outcomes: []FeedbackOutcome{
		{PatternID: "dead", Accepted: true},
	}}); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetPattern("dead")
	if p.ConfidenceWeight != 0.9 {
		t.Errorf("tombstoned weight moved to %v", p.ConfidenceWeight)
	}
	hist, _ := s.History("dead")
	if len(hist) != 2 {
		t.Errorf("audit version missing: history length %d", len(hist))
	}
}

func TestQueryRulesIncludesUniversal(t *testing.T) {
	s := NewMemStore()
	rules := []ComplianceRule{
		{RuleID: "r-any", AssetType: evidence.AssetUnknown, Obligation: "KYC all transfers"},
		{RuleID: "r-re", AssetType: evidence.AssetRealEstate, Obligation: "title registry mapping"},
		{RuleID: "r-gold", AssetType: evidence.AssetPreciousMetals, Obligation: "vault audit"},
	}
	for _, r := range rules {
		if err := s.PutRule(r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.QueryRules(evidence.AssetRealEstate)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.RuleID)
	}
	want := []string{"r-any", "r-re"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("rule query mismatch (-want +got):\n%s", diff)
	}
}

func TestSeedCatalog(t *testing.T) {
	patterns, rules, err := SeedCatalog()
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) == 0 || len(rules) == 0 {
		t.Fatalf("seed catalog empty: %d patterns, %d rules", len(patterns), len(rules))
	}

	byID := make(map[string]VulnerabilityPattern)
	for _, p := range patterns {
		byID[p.PatternID] = p
	}
	cb, ok := byID["compliance-bypass-001"]
	if !ok {
		t.Fatal("compliance-bypass-001 missing from seed catalog")
	}
	if cb.SeverityPrior != 0.9 || cb.ConfidenceWeight != 0.75 {
		t.Errorf("compliance-bypass-001 priors = %v/%v", cb.SeverityPrior, cb.ConfidenceWeight)
	}
	wantMods := []evidence.Modality{evidence.ModalityCode, evidence.ModalityLegalText}
	if diff := cmp.Diff(wantMods, cb.RequiredModalities); diff != "" {
		t.Errorf("required modalities mismatch (-want +got):\n%s", diff)
	}
	if cb.Trigger.AnchorClause().Modality != evidence.ModalityCode {
		t.Error("compliance-bypass-001 should anchor on the code clause")
	}
}

func TestSeedIdempotent(t *testing.T) {
	s := NewMemStore()
	if err := Seed(s); err != nil {
		t.Fatal(err)
	}

	// learning moves a weight; re-seeding must not reset it
	if err := s.ApplyFeedback(FeedbackBatch{RunID: "r", Outcomes: []FeedbackOutcome{
		{PatternID: "compliance-bypass-001", Accepted: true},
	}}); err != nil {
		t.Fatal(err)
	}
	if err := Seed(s); err != nil {
		t.Fatal(err)
	}

	p, err := s.GetPattern("compliance-bypass-001")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.ConfidenceWeight-0.8) > 1e-9 {
		t.Errorf("re-seed reset learned weight: %v", p.ConfidenceWeight)
	}
}
