package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCatalogMissingPathFallsBackToDefault(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load catalog failed: %v", err)
	}
	if !catalog.Has("claude") || !catalog.Has("codex") || !catalog.Has("aider") {
		t.Fatalf("default catalog incomplete: %v", catalog.Names())
	}
}

func TestLoadCatalogParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	payload := `agents:
  claude:
    display_name: Claude Code
    command: claude
    requires_working_directory: true
  scraper:
    display_name: Scraper
    command: scrape
    risk: high
`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("write catalog failed: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog failed: %v", err)
	}
	if len(catalog.Agents) != 2 {
		t.Fatalf("unexpected agent count: %d", len(catalog.Agents))
	}
	if catalog.Agents["scraper"].Risk != "high" {
		t.Fatalf("risk label lost: %q", catalog.Agents["scraper"].Risk)
	}
	if err := catalog.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestCatalogValidateRejectsMissingCommand(t *testing.T) {
	catalog := Catalog{Agents: map[string]AgentDefinition{
		"broken": {DisplayName: "Broken"},
	}}
	if err := catalog.Validate(); err == nil {
		t.Fatalf("expected validation error for missing command")
	}
}

func TestCatalogValidateRejectsUnknownRisk(t *testing.T) {
	catalog := Catalog{Agents: map[string]AgentDefinition{
		"odd": {Command: "odd", Risk: "extreme"},
	}}
	if err := catalog.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown risk label")
	}
}

func TestCatalogNamesSorted(t *testing.T) {
	names := DefaultCatalog().Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
