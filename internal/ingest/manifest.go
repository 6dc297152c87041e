// Package ingest assembles the artifact set for one audit: local files listed
// in a YAML manifest, plus deployed contract code fetched over an Ethereum
// RPC endpoint.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"rwaguard/internal/evidence"
)

// ManifestEntry describes one artifact. Exactly one of Path, Content, or
// Address must be set: a local file, inline content, or a deployed contract
// address to fetch.
type ManifestEntry struct {
	Name     string `yaml:"name"`
	Modality string `yaml:"modality"`
	Path     string `yaml:"path,omitempty"`
	Content  string `yaml:"content,omitempty"`
	Address  string `yaml:"address,omitempty"`
}

// Manifest is the audit input file.
type Manifest struct {
	AssetType string          `yaml:"asset_type"`
	Artifacts []ManifestEntry `yaml:"artifacts"`

	dir string
}

// LoadManifest reads and validates a manifest. Relative artifact paths
// resolve against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Artifacts) == 0 {
		return nil, fmt.Errorf("manifest %s lists no artifacts", path)
	}
	for i, e := range m.Artifacts {
		if e.Name == "" {
			return nil, fmt.Errorf("manifest %s: artifact %d has no name", path, i)
		}
		sources := 0
		for _, s := range []string{e.Path, e.Content, e.Address} {
			if s != "" {
				sources++
			}
		}
		if sources != 1 {
			return nil, fmt.Errorf("manifest %s: artifact %q needs exactly one of path, content, address", path, e.Name)
		}
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// CodeFetcher fetches deployed contract code by address.
type CodeFetcher interface {
	FetchCode(ctx context.Context, address string) ([]byte, error)
}

// Resolve materializes the manifest into artifacts. Address entries need a
// fetcher; passing nil fails them individually while the rest still resolve,
// mirroring the per-artifact containment of the normalizer.
func (m *Manifest) Resolve(ctx context.Context, fetcher CodeFetcher) ([]evidence.Artifact, []error) {
	var arts []evidence.Artifact
	var errs []error
	for _, e := range m.Artifacts {
		var content []byte
		var err error
		switch {
		case e.Content != "":
			content = []byte(e.Content)
		case e.Path != "":
			p := e.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(m.dir, p)
			}
			content, err = os.ReadFile(p)
		case e.Address != "":
			if fetcher == nil {
				err = fmt.Errorf("artifact %q: no chain endpoint configured", e.Name)
			} else {
				content, err = fetcher.FetchCode(ctx, e.Address)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %q: %w", e.Name, err))
			continue
		}
		arts = append(arts, evidence.Artifact{
			Name:      e.Name,
			Modality:  evidence.Modality(e.Modality),
			AssetType: m.AssetType,
			Content:   content,
		})
	}
	return arts, errs
}
