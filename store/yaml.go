package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentgraph/core"
)

// GraphSeed is one graph entry of a seed document.
type GraphSeed struct {
	Scope  core.Scope       `yaml:"scope"`
	Config core.GraphConfig `yaml:"config"`
}

// Seed is the content of a YAML seed document: graphs, agents and the
// artifact component schemas used by the pipeline.
//
//	graphs:
//	  - scope: {tenant_id: t1, project_id: p1, graph_id: support}
//	    config:
//	      default_agent_id: router
//	      max_transfers: 5
//	      status_updates: {enabled: true, num_events: 3}
//	agents:
//	  - id: router
//	    name: Router
//	components:
//	  - type: document
//	    properties:
//	      title: {type: string, inPreview: true}
type Seed struct {
	Graphs     []GraphSeed            `yaml:"graphs"`
	Agents     []core.AgentConfig     `yaml:"agents"`
	Components []core.ComponentSchema `yaml:"components"`
}

// LoadYAML decodes a seed document.
func LoadYAML(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	for i, g := range seed.Graphs {
		if g.Config.ID == "" {
			seed.Graphs[i].Config.ID = g.Scope.GraphID
		}
	}
	return &seed, nil
}

// LoadYAMLFile decodes the seed document at path.
func LoadYAMLFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}

// ApplyMemory registers every graph and agent of the seed.
func (s *Seed) ApplyMemory(m *MemoryStore) {
	for _, g := range s.Graphs {
		m.PutGraph(g.Scope, g.Config)
	}
	for _, a := range s.Agents {
		m.PutAgent(a)
	}
}

// ApplySQL upserts every graph and agent of the seed.
func (s *Seed) ApplySQL(ctx context.Context, db *SQLStore) error {
	for _, g := range s.Graphs {
		if err := db.PutGraph(ctx, g.Scope, g.Config); err != nil {
			return err
		}
	}
	for _, a := range s.Agents {
		if err := db.PutAgent(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
