package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rwaguard/internal/evidence"
)

func writeManifest(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, "audit.yaml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifestAndResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "token.sol"), []byte("contract T {}"), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeManifest(t, dir, `
asset_type: commercial real estate
artifacts:
  - name: token.sol
    modality: code
    path: token.sol
  - name: opinion
    modality: legal_text
    content: "Transfers require KYC."
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	arts, errs := m.Resolve(context.Background(), nil)
	if len(errs) != 0 {
		t.Fatalf("resolve errors: %v", errs)
	}
	want := []evidence.Artifact{
		{Name: "token.sol", Modality: evidence.ModalityCode, AssetType: "commercial real estate", Content: []byte("contract T {}")},
		{Name: "opinion", Modality: evidence.ModalityLegalText, AssetType: "commercial real estate", Content: []byte("Transfers require KYC.")},
	}
	if diff := cmp.Diff(want, arts); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadManifestValidation(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no artifacts": "asset_type: gold\n",
		"no name":      "artifacts:\n  - modality: code\n    path: x.sol\n",
		"two sources":  "artifacts:\n  - name: a\n    modality: code\n    path: x.sol\n    content: inline\n",
		"no source":    "artifacts:\n  - name: a\n    modality: code\n",
	}
	for name, doc := range cases {
		if _, err := LoadManifest(writeManifest(t, dir, doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResolveContainsFailures(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
artifacts:
  - name: missing.sol
    modality: code
    path: does-not-exist.sol
  - name: present
    modality: report_text
    content: "No issues noted."
  - name: onchain
    modality: code
    address: "0x0000000000000000000000000000000000000001"
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	// nil fetcher: the address entry fails, file miss fails, inline resolves
	arts, errs := m.Resolve(context.Background(), nil)
	if len(arts) != 1 || arts[0].Name != "present" {
		t.Errorf("artifacts = %+v", arts)
	}
	if len(errs) != 2 {
		t.Errorf("errors = %v, want 2", errs)
	}
}
