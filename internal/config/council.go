package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/javanhut/evees/internal/proposals"
)

// CouncilManifest is the YAML form of a council:
//
//	members: [alice, bob, carol]
//	duration: 86400
//	quorum: 0.5
//	threshold: 0.66
type CouncilManifest struct {
	Members          []string `yaml:"members"`
	proposals.Config `yaml:",inline"`
}

// LoadCouncilManifest reads a YAML council manifest.
func LoadCouncilManifest(path string) (CouncilManifest, error) {
	var m CouncilManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read council manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse council manifest: %w", err)
	}
	if len(m.Members) == 0 {
		return m, fmt.Errorf("council manifest %s has no members", path)
	}
	return m, nil
}

// CouncilRules returns the council rules, reading the manifest when one is set.
// Relative manifest paths are resolved against root.
func (c *Config) CouncilRules(root string) (proposals.Council, error) {
	if c.Council.Manifest != "" {
		path := c.Council.Manifest
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		m, err := LoadCouncilManifest(path)
		if err != nil {
			return proposals.Council{}, err
		}
		return proposals.Council{Members: m.Members, Config: m.Config}, nil
	}
	return proposals.Council{
		Members: c.Council.Members,
		Config: proposals.Config{
			Duration:  c.Council.Duration,
			Quorum:    c.Council.Quorum,
			Threshold: c.Council.Threshold,
		},
	}, nil
}
