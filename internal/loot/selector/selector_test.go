package selector

import (
	"fmt"
	"math"
	"testing"

	"crateloot.ai/internal/loot/rarity"
	"crateloot.ai/internal/loot/rng"
	"crateloot.ai/internal/loot/tables"
	"crateloot.ai/internal/sim/catalogs"
)

type fakeCatalog map[string]catalogs.ItemDef

func (f fakeCatalog) ResolveItem(id string) (*catalogs.ItemDef, bool) {
	d, ok := f[id]
	if !ok {
		return nil, false
	}
	return &d, true
}

// tieredTable builds a table with sizes[t] stackable items in tier t.
func tieredTable(sizes [rarity.Count]int) (*tables.LootTable, fakeCatalog) {
	cat := fakeCatalog{}
	tbl := &tables.LootTable{ID: "t", Enabled: true, Items: map[string]tables.Amount{}}
	for _, tier := range rarity.All {
		for i := 0; i < sizes[tier.Index()]; i++ {
			id := fmt.Sprintf("%s_%d", tier, i)
			cat[id] = catalogs.ItemDef{ID: id, Rarity: tier, MaxStack: 10}
			tbl.Items[id] = tables.Amount{Min: 1, Max: 1}
		}
	}
	tbl.BuildBuckets(cat, nil)
	tbl.ComputeWeights(2)
	return tbl, cat
}

func TestSelect_TierFrequencyMatchesWeights(t *testing.T) {
	sizes := [rarity.Count]int{4, 3, 2, 2, 1}
	tbl, cat := tieredTable(sizes)
	s := New(cat, rng.New(99), Config{BlueprintItem: "blueprintbase"})

	const trials = 200000
	var hits [rarity.Count]int
	for i := 0; i < trials; i++ {
		inst, ok := s.Select(tbl, true, NewBudget(0))
		if !ok {
			t.Fatalf("select failed on a populated table")
		}
		hits[cat[inst.ItemID].Rarity.Index()]++
	}
	for i := range hits {
		want := float64(tbl.ItemWeights[i]) / float64(tbl.TotalItemWeight)
		got := float64(hits[i]) / trials
		if math.Abs(got-want) > 0.01 {
			t.Fatalf("tier %d frequency %.4f, want %.4f", i, got, want)
		}
	}
}

func TestSelect_EmptyBranchSpendsBudget(t *testing.T) {
	tbl, cat := tieredTable([rarity.Count]int{})
	s := New(cat, rng.New(1), Config{})
	b := NewBudget(7)
	if _, ok := s.Select(tbl, false, b); ok {
		t.Fatalf("empty table produced an item")
	}
	if b.Left() != 0 {
		t.Fatalf("budget left = %d, want 0", b.Left())
	}
}

func TestSelect_UnresolvableItemRetries(t *testing.T) {
	tbl, cat := tieredTable([rarity.Count]int{1})
	delete(cat, "common_0")
	s := New(cat, rng.New(1), Config{})
	b := NewBudget(5)
	if _, ok := s.Select(tbl, false, b); ok {
		t.Fatalf("removed item should never materialize")
	}
}

func TestSelect_BlueprintBranch(t *testing.T) {
	cat := fakeCatalog{
		"rifle": {ID: "rifle", Rarity: rarity.VeryRare, MaxStack: 1, Condition: true, Researchable: true},
		"rope":  {ID: "rope", Rarity: rarity.Common, MaxStack: 50},
	}
	tbl := &tables.LootTable{Items: map[string]tables.Amount{
		"rifle": {Min: 1, Max: 1, Blueprint: true},
		"rope":  {Min: 2, Max: 2},
	}}
	tbl.BuildBuckets(cat, nil)
	tbl.ComputeWeights(2)

	s := New(cat, rng.New(3), Config{BlueprintProbability: 1, BlueprintItem: "blueprintbase"})
	inst, ok := s.Select(tbl, false, NewBudget(10))
	if !ok || inst.ItemID != "blueprintbase" || inst.Target != "rifle" || inst.Amount != 1 {
		t.Fatalf("expected rifle blueprint, got %+v ok=%v", inst, ok)
	}
	inst, ok = s.Select(tbl, true, NewBudget(10))
	if !ok || inst.IsBlueprint() || inst.ItemID != "rope" || inst.Amount != 2 {
		t.Fatalf("blocked blueprints should yield raw rope, got %+v ok=%v", inst, ok)
	}
}

func TestAmount_MultiplierRules(t *testing.T) {
	s := New(nil, rng.New(5), Config{LootMultiplier: 3})
	tbl := &tables.LootTable{Items: map[string]tables.Amount{
		"rope":   {Min: 2, Max: 2},
		"jacket": {Min: 1, Max: 1},
		"axe":    {Min: 1, Max: 1},
		"turret": {Min: 2, Max: 2},
		"odd":    {Min: 4, Max: 1},
	}}
	cases := []struct {
		def  catalogs.ItemDef
		want int
	}{
		{catalogs.ItemDef{ID: "rope", MaxStack: 50}, 6},
		{catalogs.ItemDef{ID: "jacket", MaxStack: 5, Wearable: true}, 1},
		{catalogs.ItemDef{ID: "axe", MaxStack: 1, Condition: true}, 1},
		{catalogs.ItemDef{ID: "turret", MaxStack: 10, Condition: true, Deployable: true}, 6},
		{catalogs.ItemDef{ID: "odd", MaxStack: 100}, 12},
		{catalogs.ItemDef{ID: "unlisted", MaxStack: 100}, 3},
	}
	for _, c := range cases {
		def := c.def
		if got := s.Amount(tbl, &def); got != c.want {
			t.Fatalf("%s: amount = %d, want %d", def.ID, got, c.want)
		}
	}

	capped := catalogs.ItemDef{ID: "rope", MaxStack: 4}
	if got := s.Amount(tbl, &capped); got != 4 {
		t.Fatalf("amount should cap at max stack, got %d", got)
	}
}

func TestBudget(t *testing.T) {
	b := NewBudget(2)
	if !b.Take() || !b.Take() || b.Take() {
		t.Fatalf("budget of 2 should allow exactly two takes")
	}
	if NewBudget(-3).Left() != 0 {
		t.Fatalf("negative budget should clamp to zero")
	}
}
