package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentDefinition describes one executable agent the orchestrator may route
// a task to. Risk optionally raises the approval classification for every
// execution of this agent.
type AgentDefinition struct {
	DisplayName              string   `yaml:"display_name" json:"display_name"`
	Command                  string   `yaml:"command" json:"command"`
	Args                     []string `yaml:"args,omitempty" json:"args,omitempty"`
	Capabilities             []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Strengths                []string `yaml:"strengths,omitempty" json:"strengths,omitempty"`
	RequiresWorkingDirectory bool     `yaml:"requires_working_directory" json:"requires_working_directory"`
	Risk                     string   `yaml:"risk,omitempty" json:"risk,omitempty"`
}

type Catalog struct {
	Agents map[string]AgentDefinition `yaml:"agents"`
}

// LoadCatalog reads the YAML agent catalog at path. An empty or missing path
// yields the built-in default catalog.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalog(), nil
		}
		return Catalog{}, fmt.Errorf("read agent catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse agent catalog: %w", err)
	}
	if len(catalog.Agents) == 0 {
		return DefaultCatalog(), nil
	}
	return catalog, nil
}

func DefaultCatalog() Catalog {
	return Catalog{Agents: map[string]AgentDefinition{
		"claude": {
			DisplayName:              "Claude Code",
			Command:                  "claude",
			Capabilities:             []string{"coding", "refactoring", "analysis"},
			Strengths:                []string{"large codebases", "multi-file edits"},
			RequiresWorkingDirectory: true,
		},
		"codex": {
			DisplayName:              "Codex CLI",
			Command:                  "codex",
			Args:                     []string{"exec"},
			Capabilities:             []string{"coding", "scripting"},
			Strengths:                []string{"quick patches"},
			RequiresWorkingDirectory: true,
		},
		"aider": {
			DisplayName:              "Aider",
			Command:                  "aider",
			Args:                     []string{"--message"},
			Capabilities:             []string{"coding", "git"},
			Strengths:                []string{"incremental commits"},
			RequiresWorkingDirectory: true,
		},
	}}
}

// Validate is the startup preflight over the catalog: every agent needs a
// command and any risk label must be one of low/medium/high.
func (c Catalog) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("agent catalog is empty")
	}
	for name, def := range c.Agents {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("agent catalog contains an unnamed agent")
		}
		if strings.TrimSpace(def.Command) == "" {
			return fmt.Errorf("agent %s: command is required", name)
		}
		switch strings.ToLower(strings.TrimSpace(def.Risk)) {
		case "", "low", "medium", "high":
		default:
			return fmt.Errorf("agent %s: unknown risk label %q", name, def.Risk)
		}
	}
	return nil
}

// Names returns agent names in ascending order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Catalog) Has(name string) bool {
	_, ok := c.Agents[name]
	return ok
}
