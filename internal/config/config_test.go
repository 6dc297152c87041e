package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing default config should not fail: %v", err)
	}
	if cfg.Engine.Threshold != 0.7 {
		t.Errorf("default threshold = %v", cfg.Engine.Threshold)
	}
	if cfg.Reasoner.Backend != "rules" {
		t.Errorf("default backend = %q", cfg.Reasoner.Backend)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit missing config path should fail")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rwaguard.yaml")
	doc := `
engine:
  acceptance_threshold: 0.8
  max_rounds: 5
  wall_clock_seconds: 30
reasoner:
  backend: gemini
  model: gemini-1.5-pro
kb:
  path: /tmp/kb.db
  seed: false
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	ec := cfg.EngineConfig()
	if ec.Threshold != 0.8 || ec.MaxRounds != 5 || ec.WallClock != 30*time.Second {
		t.Errorf("engine config = %+v", ec)
	}
	// untouched sections keep defaults
	if ec.Workers != 4 {
		t.Errorf("workers = %d, want default 4", ec.Workers)
	}
	if cfg.Reasoner.Model != "gemini-1.5-pro" {
		t.Errorf("model = %q", cfg.Reasoner.Model)
	}
	if cfg.KB.Seed {
		t.Error("seed override not applied")
	}
	fp := cfg.FeedbackPolicy()
	if fp.Increment != 0.05 || fp.MinRetained != 0.05 {
		t.Errorf("feedback policy = %+v", fp)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad threshold": "engine:\n  acceptance_threshold: 1.5\n",
		"bad backend":   "reasoner:\n  backend: ouija\n",
		"bad rounds":    "engine:\n  max_rounds: 0\n",
	}
	for name, doc := range cases {
		path := filepath.Join(t.TempDir(), "c.yaml")
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
