// Package tables builds and caches the per-container-type loot tables.
package tables

import (
	"sort"

	"github.com/zyedidia/generic/mapset"

	"crateloot.ai/internal/loot/rarity"
	"crateloot.ai/internal/sim/catalogs"
)

// MaxSlots is the fixed inventory capacity of every lootable container.
const MaxSlots = 36

// Amount is an authored stack range for one item.
type Amount struct {
	Min       int
	Max       int
	Blueprint bool
}

// Clamped returns the range with Min <= Max.
func (a Amount) Clamped() (lo, hi int) {
	lo, hi = a.Min, a.Max
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Bucket is a set of item ids with a stable order for indexed draws.
type Bucket struct {
	set   mapset.Set[string]
	order []string
}

// Put is a no-op for ids already present.
func (b *Bucket) Put(id string) bool {
	if b.order == nil {
		b.set = mapset.New[string]()
	}
	if b.set.Has(id) {
		return false
	}
	b.set.Put(id)
	b.order = append(b.order, id)
	return true
}

func (b *Bucket) Has(id string) bool {
	if b.order == nil {
		return false
	}
	return b.set.Has(id)
}

func (b *Bucket) Len() int          { return len(b.order) }
func (b *Bucket) At(i int) string   { return b.order[i] }
func (b *Bucket) Members() []string { return append([]string(nil), b.order...) }

func (b *Bucket) reset() { *b = Bucket{} }

// LootTable is the loot model of one container type.
type LootTable struct {
	ID            string
	Enabled       bool
	ScrapAmount   int
	ItemCountMin  int
	ItemCountMax  int
	MaxBlueprints int

	// Items is the flattened authored specification: item id -> stack range.
	Items map[string]Amount

	ItemBuckets      [rarity.Count]Bucket
	BlueprintBuckets [rarity.Count]Bucket

	ItemWeights          [rarity.Count]int
	BlueprintWeights     [rarity.Count]int
	TotalItemWeight      int
	TotalBlueprintWeight int
}

// ItemCatalog resolves item definitions.
type ItemCatalog interface {
	ResolveItem(id string) (*catalogs.ItemDef, bool)
}

// BuildBuckets sorts every resolvable item into its rarity bucket. Overrides
// take precedence over the catalog tier. Researchable items authored as
// blueprints go to the blueprint bucket instead of the item bucket.
func (t *LootTable) BuildBuckets(cat ItemCatalog, overrides map[string]rarity.Tier) {
	for i := range t.ItemBuckets {
		t.ItemBuckets[i].reset()
		t.BlueprintBuckets[i].reset()
	}
	for _, id := range t.ItemIDs() {
		def, ok := cat.ResolveItem(id)
		if !ok {
			continue
		}
		tier := def.Rarity
		if o, ok := overrides[id]; ok {
			tier = o
		}
		if t.Items[id].Blueprint && def.Researchable {
			t.BlueprintBuckets[tier.Index()].Put(id)
			continue
		}
		t.ItemBuckets[tier.Index()].Put(id)
	}
}

// ComputeWeights derives all weights from bucket membership. Idempotent.
func (t *LootTable) ComputeWeights(baseRarity float64) {
	t.TotalItemWeight, t.TotalBlueprintWeight = 0, 0
	for _, tier := range rarity.All {
		i := tier.Index()
		t.ItemWeights[i] = rarity.BucketWeight(tier, baseRarity, t.ItemBuckets[i].Len())
		t.BlueprintWeights[i] = rarity.BucketWeight(tier, baseRarity, t.BlueprintBuckets[i].Len())
		t.TotalItemWeight += t.ItemWeights[i]
		t.TotalBlueprintWeight += t.BlueprintWeights[i]
	}
}

// ItemIDs returns the authored item ids in sorted order.
func (t *LootTable) ItemIDs() []string {
	ids := make([]string, 0, len(t.Items))
	for id := range t.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CatalogCount is the number of distinct authored item types.
func (t *LootTable) CatalogCount() int { return len(t.Items) }

// ClampCount lowers a requested item count to the catalogued count when the
// table cannot fill its own range and fits below MaxSlots.
func (t *LootTable) ClampCount(n int) int {
	c := t.CatalogCount()
	if c > 0 && c < t.ItemCountMin && c < t.ItemCountMax && c < MaxSlots && n > c {
		return c
	}
	return n
}

// Summary is a read-only view for admin surfaces.
type Summary struct {
	ID                   string            `json:"id"`
	Enabled              bool              `json:"enabled"`
	ItemCountMin         int               `json:"item_count_min"`
	ItemCountMax         int               `json:"item_count_max"`
	ScrapAmount          int               `json:"scrap_amount"`
	MaxBlueprints        int               `json:"max_blueprints"`
	CatalogCount         int               `json:"catalog_count"`
	ItemBuckets          [rarity.Count]int `json:"item_buckets"`
	BlueprintBuckets     [rarity.Count]int `json:"blueprint_buckets"`
	TotalItemWeight      int               `json:"total_item_weight"`
	TotalBlueprintWeight int               `json:"total_blueprint_weight"`
}

func (t *LootTable) Summary() Summary {
	s := Summary{
		ID:                   t.ID,
		Enabled:              t.Enabled,
		ItemCountMin:         t.ItemCountMin,
		ItemCountMax:         t.ItemCountMax,
		ScrapAmount:          t.ScrapAmount,
		MaxBlueprints:        t.MaxBlueprints,
		CatalogCount:         t.CatalogCount(),
		TotalItemWeight:      t.TotalItemWeight,
		TotalBlueprintWeight: t.TotalBlueprintWeight,
	}
	for i := range t.ItemBuckets {
		s.ItemBuckets[i] = t.ItemBuckets[i].Len()
		s.BlueprintBuckets[i] = t.BlueprintBuckets[i].Len()
	}
	return s
}
