package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/koshedutech/candlewatch/internal/executor"
	"github.com/koshedutech/candlewatch/internal/model"
)

// tierFile is the on-disk shape of tiers.yaml: position sizing and exit
// ladders are tuned far more often than the rest of engine config, so they
// live in their own file instead of buried in the JSON config document.
type tierFile struct {
	Tiers map[string]tierEntry `yaml:"tiers"`
}

type tierEntry struct {
	BasePositionUSD float64 `yaml:"base_position_usd"`
	MaxPositionUSD  float64 `yaml:"max_position_usd"`
	StopPercent     float64 `yaml:"stop_percent"`
	TP1Percent      float64 `yaml:"tp1_percent"`
	TP2Percent      float64 `yaml:"tp2_percent"`
	TP3Percent      float64 `yaml:"tp3_percent"`
	DCAAllowed      bool    `yaml:"dca_allowed"`
}

var tierNames = map[string]model.Tier{
	"tier1": model.Tier1,
	"tier2": model.Tier2,
	"tier3": model.Tier3,
	"tier4": model.Tier4,
}

// LoadTiers reads a tiers.yaml file and overlays it on top of
// executor.DefaultTierTable, so a file that only overrides tier1 leaves the
// other tiers at their defaults. A missing file returns the defaults as-is.
func LoadTiers(path string) (map[model.Tier]executor.TierParams, error) {
	table := executor.DefaultTierTable()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}

	var parsed tierFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}

	for name, entry := range parsed.Tiers {
		tier, ok := tierNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown tier name %q in tiers file", name)
		}
		table[tier] = executor.TierParams{
			BasePositionUSD: entry.BasePositionUSD,
			MaxPositionUSD:  entry.MaxPositionUSD,
			StopPercent:     entry.StopPercent,
			TP1Percent:      entry.TP1Percent,
			TP2Percent:      entry.TP2Percent,
			TP3Percent:      entry.TP3Percent,
			DCAAllowed:      entry.DCAAllowed,
		}
	}
	return table, nil
}
