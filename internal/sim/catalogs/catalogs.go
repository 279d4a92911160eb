package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"crateloot.ai/internal/loot/rarity"
)

// Catalogs is the read-only asset catalog: container prefabs and item definitions.
type Catalogs struct {
	Prefabs PrefabCatalog
	Items   ItemCatalog
}

type PrefabCatalog struct {
	IDs    []string
	Defs   map[string]PrefabDef
	Digest string
}

// PrefabDef describes one container type as authored in the game assets.
type PrefabDef struct {
	ID          string   `json:"id"`
	Lootable    bool     `json:"lootable"`
	Slots       Range    `json:"slots"`
	ScrapAmount int      `json:"scrap_amount,omitempty"`
	Loot        LootSpec `json:"loot"`
}

// LootSpec is a node of an authored loot specification. Leaves name an item
// and an amount range; inner nodes nest further specifications.
type LootSpec struct {
	Item      string     `json:"item,omitempty"`
	Blueprint bool       `json:"blueprint,omitempty"`
	Min       int        `json:"min,omitempty"`
	Max       int        `json:"max,omitempty"`
	Entries   []LootSpec `json:"entries,omitempty"`
}

type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type ItemCatalog struct {
	IDs    []string
	Defs   map[string]ItemDef
	Digest string
}

type ItemDef struct {
	ID           string      `json:"id"`
	Category     string      `json:"category"` // "WEAPON","ATTIRE","TOOL","RESOURCE","COMPONENT","MEDICAL","AMMO","DEPLOYABLE"
	RarityName   string      `json:"rarity,omitempty"`
	Rarity       rarity.Tier `json:"-"`
	MaxStack     int         `json:"max_stack,omitempty"`
	Condition    bool        `json:"condition,omitempty"`
	Deployable   bool        `json:"deployable,omitempty"`
	Wearable     bool        `json:"wearable,omitempty"`
	Researchable bool        `json:"researchable,omitempty"`
	Broken       bool        `json:"broken,omitempty"`
}

// Stackable reports whether more than one unit fits in a slot.
func (d *ItemDef) Stackable() bool { return d.MaxStack > 1 }

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadPrefabs(filepath.Join(configDir, "prefabs.json"), &c.Prefabs); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolvePrefab returns nil, false for container types absent from this build.
func (c *Catalogs) ResolvePrefab(id string) (*PrefabDef, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.Prefabs.Defs[id]
	if !ok {
		return nil, false
	}
	return &d, true
}

func (c *Catalogs) ResolveItem(id string) (*ItemDef, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.Items.Defs[id]
	if !ok {
		return nil, false
	}
	return &d, true
}

// LootablePrefabIDs lists lootable container types in sorted order.
func (c *Catalogs) LootablePrefabIDs() []string {
	out := make([]string, 0, len(c.Prefabs.IDs))
	for _, id := range c.Prefabs.IDs {
		if c.Prefabs.Defs[id].Lootable {
			out = append(out, id)
		}
	}
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadPrefabs(path string, out *PrefabCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []PrefabDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("prefabs.json: %w", err)
	}
	out.Defs = map[string]PrefabDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("prefabs.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("prefabs.json: duplicate id %s", d.ID)
		}
		if d.Slots.Min < 0 || d.Slots.Max < d.Slots.Min {
			return fmt.Errorf("prefabs.json: %s: bad slots range [%d,%d]", d.ID, d.Slots.Min, d.Slots.Max)
		}
		out.Defs[d.ID] = d
	}
	out.IDs = sortedKeys(out.Defs)
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		tier, err := rarity.Parse(d.RarityName)
		if err != nil {
			return fmt.Errorf("items.json: %s: %w", d.ID, err)
		}
		d.Rarity = tier
		if d.MaxStack <= 0 {
			d.MaxStack = 1
		}
		out.Defs[d.ID] = d
	}
	out.IDs = sortedKeys(out.Defs)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
