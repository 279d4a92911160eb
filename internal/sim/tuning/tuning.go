package tuning

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"crateloot.ai/internal/loot/rarity"
)

// CurrentVersion is the tuning.yaml schema written by this build.
const CurrentVersion = 2

type Tuning struct {
	Version int `yaml:"version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	BaseRarity           float64 `yaml:"base_rarity"`
	BlueprintProbability float64 `yaml:"blueprint_probability"`
	LootMultiplier       float64 `yaml:"loot_multiplier"`
	ScrapMultiplier      float64 `yaml:"scrap_multiplier"`
	MaxBlueprintsDefault int     `yaml:"max_blueprints_default"`

	StackedSpawnThreshold float64 `yaml:"stacked_spawn_threshold"`
	RefreshDelayTicks     int     `yaml:"refresh_delay_ticks"`
	RerollEveryTicks      int     `yaml:"reroll_every_ticks"`

	Watched          []string          `yaml:"watched,omitempty"`
	DisabledPatterns []string          `yaml:"disabled_patterns,omitempty"`
	RarityOverrides  map[string]string `yaml:"rarity_overrides,omitempty"`

	BlueprintItem string `yaml:"blueprint_item"`
	ScrapItem     string `yaml:"scrap_item"`

	Spawns []SpawnSpec `yaml:"spawns,omitempty"`
}

// SpawnSpec places a container in the host world at startup.
type SpawnSpec struct {
	Prefab string     `yaml:"prefab"`
	Pos    [3]float64 `yaml:"pos"`
}

// TuningV1 is the previous tuning.yaml schema.
type TuningV1 struct {
	Version                int            `yaml:"version"`
	TickRateHz             int            `yaml:"tick_rate_hz"`
	RarityMultiplier       float64        `yaml:"rarity_multiplier"`
	BlueprintChancePercent float64        `yaml:"blueprint_chance_percent"`
	Multiplier             float64        `yaml:"multiplier"`
	ScrapMultiplier        float64        `yaml:"scrap_multiplier"`
	Watched                []string       `yaml:"watched,omitempty"`
	RarityOverrides        map[string]int `yaml:"rarity_overrides,omitempty"`
}

func Defaults() Tuning {
	return Tuning{
		Version:               CurrentVersion,
		TickRateHz:            10,
		BaseRarity:            2,
		BlueprintProbability:  0.11,
		LootMultiplier:        1,
		ScrapMultiplier:       1,
		MaxBlueprintsDefault:  1,
		StackedSpawnThreshold: 0.25,
		RefreshDelayTicks:     5,
		DisabledPatterns:      []string{"*event*", "*elite*"},
		BlueprintItem:         "blueprintbase",
		ScrapItem:             "scrap",
	}
}

func Load(p string) (Tuning, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return Tuning{}, err
	}
	return Parse(raw)
}

// Parse decodes either schema version and returns the current schema.
func Parse(raw []byte) (Tuning, error) {
	var head struct {
		Version int `yaml:"version"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}

	var t Tuning
	switch head.Version {
	case 1:
		var v1 TuningV1
		if err := yaml.Unmarshal(raw, &v1); err != nil {
			return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
		}
		migrated, err := MigrateV1(v1)
		if err != nil {
			return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
		}
		return migrated, nil
	case 0, CurrentVersion:
		t = Defaults()
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
		}
		t.Version = CurrentVersion
	default:
		return Tuning{}, fmt.Errorf("tuning.yaml: unsupported version %d", head.Version)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// MigrateV1 maps a version 1 document onto the current schema. Fields that
// did not exist in version 1 take their defaults.
func MigrateV1(v1 TuningV1) (Tuning, error) {
	t := Defaults()
	if v1.TickRateHz > 0 {
		t.TickRateHz = v1.TickRateHz
	}
	if v1.RarityMultiplier > 0 {
		t.BaseRarity = v1.RarityMultiplier
	}
	t.BlueprintProbability = v1.BlueprintChancePercent / 100
	if v1.Multiplier > 0 {
		t.LootMultiplier = v1.Multiplier
	}
	if v1.ScrapMultiplier > 0 {
		t.ScrapMultiplier = v1.ScrapMultiplier
	}
	t.Watched = append([]string(nil), v1.Watched...)
	if len(v1.RarityOverrides) > 0 {
		t.RarityOverrides = make(map[string]string, len(v1.RarityOverrides))
		for item, idx := range v1.RarityOverrides {
			tier, ok := rarity.FromIndex(idx)
			if !ok {
				return Tuning{}, fmt.Errorf("rarity_overrides[%s]: tier index %d out of range", item, idx)
			}
			t.RarityOverrides[item] = tier.String()
		}
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.BaseRarity <= 0 {
		t.BaseRarity = d.BaseRarity
	}
	if t.LootMultiplier <= 0 {
		t.LootMultiplier = d.LootMultiplier
	}
	if t.ScrapMultiplier < 0 {
		t.ScrapMultiplier = d.ScrapMultiplier
	}
	if t.MaxBlueprintsDefault < 0 {
		t.MaxBlueprintsDefault = d.MaxBlueprintsDefault
	}
	if t.StackedSpawnThreshold <= 0 {
		t.StackedSpawnThreshold = d.StackedSpawnThreshold
	}
	if t.RefreshDelayTicks <= 0 {
		t.RefreshDelayTicks = d.RefreshDelayTicks
	}
	if t.RerollEveryTicks < 0 {
		t.RerollEveryTicks = 0
	}
	if strings.TrimSpace(t.BlueprintItem) == "" {
		t.BlueprintItem = d.BlueprintItem
	}
	if strings.TrimSpace(t.ScrapItem) == "" {
		t.ScrapItem = d.ScrapItem
	}
}

func (t Tuning) Validate() error {
	if t.BlueprintProbability < 0 || t.BlueprintProbability > 1 {
		return fmt.Errorf("blueprint_probability must be in [0,1]")
	}
	for _, p := range t.DisabledPatterns {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("disabled_patterns: bad pattern %q", p)
		}
	}
	for item, name := range t.RarityOverrides {
		if _, err := rarity.Parse(name); err != nil {
			return fmt.Errorf("rarity_overrides[%s]: %w", item, err)
		}
	}
	for i, s := range t.Spawns {
		if strings.TrimSpace(s.Prefab) == "" {
			return fmt.Errorf("spawns[%d] missing prefab", i)
		}
	}
	return nil
}

// DisabledByDefault reports whether a newly built table for prefabID should start disabled.
func (t Tuning) DisabledByDefault(prefabID string) bool {
	for _, p := range t.DisabledPatterns {
		if ok, _ := path.Match(p, prefabID); ok {
			return true
		}
	}
	return false
}

// Overrides resolves rarity_overrides into tiers. Validate has already rejected bad names.
func (t Tuning) Overrides() map[string]rarity.Tier {
	out := make(map[string]rarity.Tier, len(t.RarityOverrides))
	for item, name := range t.RarityOverrides {
		tier, err := rarity.Parse(name)
		if err != nil {
			continue
		}
		out[item] = tier
	}
	return out
}
