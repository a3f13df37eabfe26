package config

import (
	"fmt"
	"os"

	"github.com/harun/nanobot/pkg/agent"
	"gopkg.in/yaml.v3"
)

// agentsFile is the layout of an agent catalog file:
//
//	agents:
//	  - id: math-tutor
//	    name: Math Tutor
//	    system_prompt: You solve arithmetic step by step.
//	    tools: [calculator]
//	    llm_profile: deepseek
type agentsFile struct {
	Agents []yaml.Node `yaml:"agents"`
}

// LoadAgentProfiles reads agent profiles from a YAML catalog file. A profile
// without an enabled key is enabled.
func LoadAgentProfiles(path string) ([]agent.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent profiles: %w", err)
	}
	return ParseAgentProfiles(data)
}

// ParseAgentProfiles decodes a YAML agent catalog
func ParseAgentProfiles(data []byte) ([]agent.Profile, error) {
	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent profiles: %w", err)
	}

	profiles := make([]agent.Profile, 0, len(file.Agents))
	for i := range file.Agents {
		node := &file.Agents[i]

		var p agent.Profile
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("agent profile %d: %w", i, err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("agent profile %d (line %d): id is required", i, node.Line)
		}
		if !hasKey(node, "enabled") {
			p.Enabled = true
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// MergeProfiles returns base with overrides applied by id. Overrides with a
// new id are appended in order.
func MergeProfiles(base, overrides []agent.Profile) []agent.Profile {
	out := make([]agent.Profile, 0, len(base)+len(overrides))
	index := make(map[string]int, len(base))
	for _, p := range base {
		index[p.ID] = len(out)
		out = append(out, p)
	}
	for _, p := range overrides {
		if i, ok := index[p.ID]; ok {
			out[i] = p
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
