package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/koshedutech/candlewatch/internal/model"
)

func TestLoadAppliesFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"engine":{"cycle_interval_seconds":120,"total_capital_usd":5000}}`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CYCLE_INTERVAL_SECONDS", "90")

	cfg, err := Load(filepath.Join(dir, "missing.env"), configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.CycleIntervalSeconds != 90 {
		t.Errorf("expected env override to win, got %d", cfg.Engine.CycleIntervalSeconds)
	}
	if cfg.Engine.TotalCapitalUSD != 5000 {
		t.Errorf("expected file value to survive, got %v", cfg.Engine.TotalCapitalUSD)
	}
	if cfg.Engine.MaxConcurrentPositions != 10 {
		t.Errorf("expected default value, got %d", cfg.Engine.MaxConcurrentPositions)
	}
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.env"), filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port, got %d", cfg.Server.Port)
	}
	if cfg.Engine.TotalCapitalUSD != 10000 {
		t.Errorf("expected default total capital, got %v", cfg.Engine.TotalCapitalUSD)
	}
}

func TestLoadTiersMissingFileReturnsDefaults(t *testing.T) {
	table, err := LoadTiers(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadTiers: %v", err)
	}
	if _, ok := table[model.Tier1]; !ok {
		t.Fatalf("expected default tier1 entry")
	}
}

func TestLoadTiersOverridesOneTier(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	yaml := `
tiers:
  tier1:
    base_position_usd: 1000
    max_position_usd: 3000
    stop_percent: 0.2
    tp1_percent: 0.05
    tp2_percent: 0.08
    tp3_percent: 0.12
    dca_allowed: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write tiers file: %v", err)
	}

	table, err := LoadTiers(path)
	if err != nil {
		t.Fatalf("LoadTiers: %v", err)
	}
	if table[model.Tier1].BasePositionUSD != 1000 {
		t.Errorf("expected tier1 override, got %+v", table[model.Tier1])
	}
	if table[model.Tier2].BasePositionUSD != 300 {
		t.Errorf("expected tier2 to keep default, got %+v", table[model.Tier2])
	}
}

func TestLoadTiersUnknownNameErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	if err := os.WriteFile(path, []byte("tiers:\n  tier9:\n    base_position_usd: 1\n"), 0o644); err != nil {
		t.Fatalf("write tiers file: %v", err)
	}
	if _, err := LoadTiers(path); err == nil {
		t.Fatal("expected error for unknown tier name")
	}
}
