// Package selector draws single item instances from a loot table.
package selector

import (
	"math"

	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/loot/rng"
	"crateloot.ai/internal/loot/tables"
	"crateloot.ai/internal/sim/catalogs"
)

// Budget is the retry allowance shared by every draw of one container.
type Budget struct{ left int }

func NewBudget(n int) *Budget {
	if n < 0 {
		n = 0
	}
	return &Budget{left: n}
}

// Take spends one retry. It reports false once the budget is exhausted.
func (b *Budget) Take() bool {
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}

func (b *Budget) Left() int { return b.left }

type Config struct {
	BlueprintProbability float64
	LootMultiplier       float64
	BlueprintItem        string
}

type Selector struct {
	cat tables.ItemCatalog
	rnd rng.Source
	cfg Config
}

func New(cat tables.ItemCatalog, rnd rng.Source, cfg Config) *Selector {
	if cfg.LootMultiplier <= 0 {
		cfg.LootMultiplier = 1
	}
	return &Selector{cat: cat, rnd: rnd, cfg: cfg}
}

// Select draws one instance from t. Failed draws spend budget; it returns
// false once the budget runs out.
func (s *Selector) Select(t *tables.LootTable, blockBlueprints bool, b *Budget) (loadout.Instance, bool) {
	for {
		if inst, ok := s.draw(t, blockBlueprints); ok {
			return inst, true
		}
		if !b.Take() {
			return loadout.Instance{}, false
		}
	}
}

func (s *Selector) draw(t *tables.LootTable, blockBlueprints bool) (loadout.Instance, bool) {
	blueprint := s.rnd.Float64() < s.cfg.BlueprintProbability && !blockBlueprints

	total, weights, buckets := t.TotalItemWeight, &t.ItemWeights, &t.ItemBuckets
	if blueprint {
		total, weights, buckets = t.TotalBlueprintWeight, &t.BlueprintWeights, &t.BlueprintBuckets
	}
	if total <= 0 {
		return loadout.Instance{}, false
	}

	r := s.rnd.Intn(total)
	var from *tables.Bucket
	sum := 0
	for i := range weights {
		sum += weights[i]
		if sum > r {
			from = &buckets[i]
			break
		}
	}
	if from == nil || from.Len() == 0 {
		return loadout.Instance{}, false
	}

	id := from.At(s.rnd.Intn(from.Len()))
	def, ok := s.cat.ResolveItem(id)
	if !ok {
		return loadout.Instance{}, false
	}
	if blueprint && def.Researchable {
		return loadout.Instance{ItemID: s.cfg.BlueprintItem, Amount: 1, Target: def.ID}, true
	}
	return loadout.Instance{ItemID: def.ID, Amount: s.Amount(t, def)}, true
}

// Amount draws a stack size from the table's range for def, scaled by the
// loot multiplier and capped at the item's max stack.
func (s *Selector) Amount(t *tables.LootTable, def *catalogs.ItemDef) int {
	lo, hi := 1, 1
	if a, ok := t.Items[def.ID]; ok {
		lo, hi = a.Clamped()
	}
	mult := s.cfg.LootMultiplier
	if SingleMultiplier(def) {
		mult = 1
	}
	lo = int(math.Round(float64(lo) * mult))
	hi = int(math.Round(float64(hi) * mult))
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	n := rng.Between(s.rnd, lo, hi)
	if def.MaxStack > 0 && n > def.MaxStack {
		n = def.MaxStack
	}
	return n
}

// SingleMultiplier reports items whose amount is never scaled: degradable
// gear that is not a deployable, and anything that cannot stack or is worn.
func SingleMultiplier(def *catalogs.ItemDef) bool {
	if def.Condition && !def.Deployable {
		return true
	}
	return !def.Stackable() || def.Wearable
}
