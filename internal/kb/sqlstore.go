package kb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rwaguard/internal/evidence"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default relative path for the knowledge base DB.
// Open() creates the parent dir (e.g. .rwaguard).
const DefaultDBPath = ".rwaguard/kb.db"

const schemaVersion = 1

const schema = `
CREATE TABLE schema_version (
	version INTEGER NOT NULL
);
CREATE TABLE patterns (
	pattern_id          TEXT PRIMARY KEY,
	category            TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	trigger_json        TEXT NOT NULL,
	required_modalities TEXT NOT NULL,
	severity_prior      REAL NOT NULL,
	confidence_weight   REAL NOT NULL,
	mitigation          TEXT NOT NULL DEFAULT '',
	case_reference      TEXT NOT NULL DEFAULT '',
	asset_types         TEXT NOT NULL DEFAULT '',
	tombstoned          INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE rules (
	rule_id    TEXT PRIMARY KEY,
	asset_type TEXT NOT NULL,
	obligation TEXT NOT NULL,
	loc_file   TEXT NOT NULL DEFAULT '',
	loc_line   INTEGER NOT NULL DEFAULT 0,
	loc_cell   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE pattern_versions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	pattern_id        TEXT NOT NULL,
	version           INTEGER NOT NULL,
	confidence_weight REAL NOT NULL,
	run_id            TEXT NOT NULL DEFAULT '',
	applied_at        TEXT NOT NULL
);
CREATE INDEX idx_pattern_versions ON pattern_versions(pattern_id, version);
CREATE TABLE applied_runs (
	run_id     TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
);
`

// SqlStore implements Store with SQLite. Feedback batches run inside one
// transaction, which gives the per-pattern write serialization the
// concurrency model requires.
type SqlStore struct {
	db     *sql.DB
	policy FeedbackPolicy
}

// Open opens or creates a SQLite knowledge base at path, creating the parent
// directory if needed.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create kb dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db, policy: DefaultFeedbackPolicy()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetFeedbackPolicy overrides the default feedback bounds.
func (s *SqlStore) SetFeedbackPolicy(p FeedbackPolicy) { s.policy = p }

// Close closes the underlying database.
func (s *SqlStore) Close() error { return s.db.Close() }

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown kb schema version %d", v)
	}
	return nil
}

func joinModalities(ms []evidence.Modality) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

func splitModalities(s string) []evidence.Modality {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]evidence.Modality, len(parts))
	for i, p := range parts {
		out[i] = evidence.Modality(p)
	}
	return out
}

func joinAssetTypes(ts []evidence.AssetType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitAssetTypes(s string) []evidence.AssetType {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]evidence.AssetType, len(parts))
	for i, p := range parts {
		out[i] = evidence.AssetType(p)
	}
	return out
}

func (s *SqlStore) PutPattern(p VulnerabilityPattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	trigger, err := json.Marshal(p.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM patterns WHERE pattern_id=?", p.PatternID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrPatternExists
	}
	_, err = tx.Exec(`INSERT INTO patterns
		(pattern_id, category, title, trigger_json, required_modalities,
		 severity_prior, confidence_weight, mitigation, case_reference, asset_types, tombstoned)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.PatternID, string(p.Category), p.Title, string(trigger),
		joinModalities(p.RequiredModalities), p.SeverityPrior, p.ConfidenceWeight,
		p.Mitigation, p.CaseReference, joinAssetTypes(p.AssetTypes), boolToInt(p.Tombstoned))
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO pattern_versions
		(pattern_id, version, confidence_weight, run_id, applied_at) VALUES (?,?,?,?,?)`,
		p.PatternID, 1, p.ConfidenceWeight, "", nowUTC())
	if err != nil {
		return fmt.Errorf("insert pattern version: %w", err)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanPattern(row interface{ Scan(...any) error }) (*VulnerabilityPattern, error) {
	var p VulnerabilityPattern
	var category, triggerJSON, modalities, assetTypes string
	var tombstoned int
	err := row.Scan(&p.PatternID, &category, &p.Title, &triggerJSON, &modalities,
		&p.SeverityPrior, &p.ConfidenceWeight, &p.Mitigation, &p.CaseReference,
		&assetTypes, &tombstoned)
	if err != nil {
		return nil, err
	}
	p.Category = Category(category)
	if err := json.Unmarshal([]byte(triggerJSON), &p.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger for %s: %w", p.PatternID, err)
	}
	p.RequiredModalities = splitModalities(modalities)
	p.AssetTypes = splitAssetTypes(assetTypes)
	p.Tombstoned = tombstoned != 0
	return &p, nil
}

const patternColumns = `pattern_id, category, title, trigger_json, required_modalities,
	severity_prior, confidence_weight, mitigation, case_reference, asset_types, tombstoned`

func (s *SqlStore) GetPattern(patternID string) (*VulnerabilityPattern, error) {
	row := s.db.QueryRow("SELECT "+patternColumns+" FROM patterns WHERE pattern_id=?", patternID)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &UnknownPatternError{PatternID: patternID}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SqlStore) QueryPatterns(assetType evidence.AssetType, categories []Category) ([]VulnerabilityPattern, error) {
	rows, err := s.db.Query("SELECT " + patternColumns +
		" FROM patterns WHERE tombstoned=0 ORDER BY confidence_weight DESC, pattern_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	catFilter := make(map[Category]bool, len(categories))
	for _, c := range categories {
		catFilter[c] = true
	}

	var out []VulnerabilityPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		if !p.AppliesTo(assetType) {
			continue
		}
		if len(catFilter) > 0 && !catFilter[p.Category] {
			continue
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SqlStore) PutRule(r ComplianceRule) error {
	_, err := s.db.Exec(`INSERT INTO rules (rule_id, asset_type, obligation, loc_file, loc_line, loc_cell)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(rule_id) DO UPDATE SET
			asset_type=excluded.asset_type, obligation=excluded.obligation,
			loc_file=excluded.loc_file, loc_line=excluded.loc_line, loc_cell=excluded.loc_cell`,
		r.RuleID, string(r.AssetType), r.Obligation, r.Loc.File, r.Loc.Line, r.Loc.Cell)
	return err
}

func (s *SqlStore) QueryRules(assetType evidence.AssetType) ([]ComplianceRule, error) {
	rows, err := s.db.Query(`SELECT rule_id, asset_type, obligation, loc_file, loc_line, loc_cell
		FROM rules WHERE asset_type=? OR asset_type=? ORDER BY rule_id ASC`,
		string(assetType), string(evidence.AssetUnknown))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ComplianceRule
	for rows.Next() {
		var r ComplianceRule
		var at string
		if err := rows.Scan(&r.RuleID, &at, &r.Obligation, &r.Loc.File, &r.Loc.Line, &r.Loc.Cell); err != nil {
			return nil, err
		}
		r.AssetType = evidence.AssetType(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) ApplyFeedback(batch FeedbackBatch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var unknown []error
	touched := make(map[string]bool)
	at := nowUTC()

	for _, o := range batch.Outcomes {
		var weight float64
		var tombstoned int
		err := tx.QueryRow("SELECT confidence_weight, tombstoned FROM patterns WHERE pattern_id=?",
			o.PatternID).Scan(&weight, &tombstoned)
		if errors.Is(err, sql.ErrNoRows) {
			unknown = append(unknown, &UnknownPatternError{PatternID: o.PatternID})
			continue
		}
		if err != nil {
			return err
		}
		if tombstoned == 0 {
			next := s.policy.apply(weight, o.Accepted)
			if _, err := tx.Exec("UPDATE patterns SET confidence_weight=? WHERE pattern_id=?",
				next, o.PatternID); err != nil {
				return err
			}
		}
		touched[o.PatternID] = true
	}

	for id := range touched {
		var weight float64
		var maxVersion int
		if err := tx.QueryRow("SELECT confidence_weight FROM patterns WHERE pattern_id=?", id).Scan(&weight); err != nil {
			return err
		}
		if err := tx.QueryRow("SELECT COALESCE(MAX(version),0) FROM pattern_versions WHERE pattern_id=?",
			id).Scan(&maxVersion); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO pattern_versions
			(pattern_id, version, confidence_weight, run_id, applied_at) VALUES (?,?,?,?,?)`,
			id, maxVersion+1, weight, batch.RunID, at); err != nil {
			return err
		}
	}

	if batch.RunID != "" {
		if _, err := tx.Exec("INSERT OR IGNORE INTO applied_runs(run_id, applied_at) VALUES (?,?)",
			batch.RunID, at); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return errors.Join(unknown...)
}

func (s *SqlStore) HasAppliedRun(runID string) (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM applied_runs WHERE run_id=?", runID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SqlStore) Tombstone(patternID string) error {
	res, err := s.db.Exec("UPDATE patterns SET tombstoned=1 WHERE pattern_id=?", patternID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &UnknownPatternError{PatternID: patternID}
	}
	return nil
}

func (s *SqlStore) History(patternID string) ([]PatternVersion, error) {
	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM patterns WHERE pattern_id=?", patternID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, &UnknownPatternError{PatternID: patternID}
	}
	rows, err := s.db.Query(`SELECT pattern_id, version, confidence_weight, run_id, applied_at
		FROM pattern_versions WHERE pattern_id=? ORDER BY version ASC`, patternID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PatternVersion
	for rows.Next() {
		var v PatternVersion
		if err := rows.Scan(&v.PatternID, &v.Version, &v.ConfidenceWeight, &v.RunID, &v.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
