package tables

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"crateloot.ai/internal/loot/rarity"
	"crateloot.ai/internal/persistence/overrides"
	"crateloot.ai/internal/sim/catalogs"
	"crateloot.ai/internal/sim/tuning"
)

func testCatalog() *catalogs.Catalogs {
	items := []catalogs.ItemDef{
		{ID: "rope", Rarity: rarity.Common, MaxStack: 50},
		{ID: "cloth", Rarity: rarity.Common, MaxStack: 100},
		{ID: "gears", Rarity: rarity.Uncommon, MaxStack: 20},
		{ID: "pistol", Rarity: rarity.Rare, MaxStack: 1, Condition: true, Researchable: true},
		{ID: "rifle", Rarity: rarity.VeryRare, MaxStack: 1, Condition: true, Researchable: true},
		{ID: "note", Rarity: rarity.Common, MaxStack: 1},
	}
	c := &catalogs.Catalogs{}
	c.Items.Defs = map[string]catalogs.ItemDef{}
	for _, d := range items {
		c.Items.Defs[d.ID] = d
		c.Items.IDs = append(c.Items.IDs, d.ID)
	}
	prefabs := []catalogs.PrefabDef{
		{
			ID: "crate_basic", Lootable: true, Slots: catalogs.Range{Min: 2, Max: 4}, ScrapAmount: 2,
			Loot: catalogs.LootSpec{Entries: []catalogs.LootSpec{
				{Item: "rope", Min: 1, Max: 3},
				{Entries: []catalogs.LootSpec{
					{Item: "gears", Min: 2, Max: 2},
					{Item: "rope", Min: 9, Max: 9},
				}},
				{Item: "pistol", Blueprint: true},
				{Item: "rifle"},
				{Item: "note", Blueprint: true},
				{Item: "ghost_item"},
			}},
		},
		{ID: "crate_event_xmas", Lootable: true, Slots: catalogs.Range{Min: 1, Max: 1},
			Loot: catalogs.LootSpec{Item: "cloth"}},
		{ID: "barrel", Lootable: false, Slots: catalogs.Range{Min: 1, Max: 2},
			Loot: catalogs.LootSpec{Item: "cloth"}},
	}
	c.Prefabs.Defs = map[string]catalogs.PrefabDef{}
	for _, p := range prefabs {
		c.Prefabs.Defs[p.ID] = p
		c.Prefabs.IDs = append(c.Prefabs.IDs, p.ID)
	}
	return c
}

type memStore struct {
	doc   *overrides.Document
	saves int
	err   error
}

func (m *memStore) Load() (*overrides.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.doc == nil {
		return overrides.NewDocument(), nil
	}
	return m.doc, nil
}

func (m *memStore) Save(doc *overrides.Document) error {
	m.doc = doc
	m.saves++
	return nil
}

func TestFlatten_FirstWriteWins(t *testing.T) {
	p, _ := testCatalog().ResolvePrefab("crate_basic")
	entries := Flatten(p.Loot)
	got := map[string]Amount{}
	var order []string
	for _, e := range entries {
		got[e.Item] = e.Amount
		order = append(order, e.Item)
	}
	if len(entries) != 6 {
		t.Fatalf("entries = %v", order)
	}
	if got["rope"].Min != 1 || got["rope"].Max != 3 {
		t.Fatalf("rope should keep first range, got %+v", got["rope"])
	}
	if got["rifle"].Min != 1 || got["rifle"].Max != 1 {
		t.Fatalf("unset range should default to 1..1, got %+v", got["rifle"])
	}
	if order[0] != "rope" || order[1] != "gears" {
		t.Fatalf("depth-first order lost: %v", order)
	}
}

func TestBuildBuckets_TiersOverridesAndBlueprints(t *testing.T) {
	cat := testCatalog()
	tbl := &LootTable{Items: map[string]Amount{
		"rope":       {Min: 1, Max: 1},
		"gears":      {Min: 1, Max: 1},
		"pistol":     {Min: 1, Max: 1, Blueprint: true},
		"rifle":      {Min: 1, Max: 1},
		"note":       {Min: 1, Max: 1, Blueprint: true},
		"ghost_item": {Min: 1, Max: 1},
	}}
	tbl.BuildBuckets(cat, map[string]rarity.Tier{"gears": rarity.Epic})

	if !tbl.ItemBuckets[rarity.Common.Index()].Has("rope") {
		t.Fatalf("rope should be common")
	}
	if !tbl.ItemBuckets[rarity.Epic.Index()].Has("gears") || tbl.ItemBuckets[rarity.Uncommon.Index()].Has("gears") {
		t.Fatalf("override should move gears to epic")
	}
	if !tbl.BlueprintBuckets[rarity.Rare.Index()].Has("pistol") || tbl.ItemBuckets[rarity.Rare.Index()].Has("pistol") {
		t.Fatalf("pistol blueprint belongs in blueprint bucket only")
	}
	if !tbl.ItemBuckets[rarity.Common.Index()].Has("note") {
		t.Fatalf("non-researchable blueprint entry falls back to item bucket")
	}
	total := 0
	for i := range tbl.ItemBuckets {
		total += tbl.ItemBuckets[i].Len() + tbl.BlueprintBuckets[i].Len()
		if tbl.ItemBuckets[i].Has("ghost_item") {
			t.Fatalf("unresolvable item must be skipped")
		}
	}
	if total != 5 {
		t.Fatalf("bucketed %d items, want 5", total)
	}
}

func TestBucket_DuplicatePutIsNoop(t *testing.T) {
	var b Bucket
	if !b.Put("a") || b.Put("a") || !b.Put("b") {
		t.Fatalf("unexpected put results")
	}
	if b.Len() != 2 || b.At(0) != "a" || b.At(1) != "b" {
		t.Fatalf("members = %v", b.Members())
	}
}

func TestComputeWeights_Idempotent(t *testing.T) {
	tbl := &LootTable{Items: map[string]Amount{
		"rope": {Min: 1, Max: 1}, "cloth": {Min: 1, Max: 1}, "gears": {Min: 1, Max: 1}, "rifle": {Min: 1, Max: 1},
	}}
	tbl.BuildBuckets(testCatalog(), nil)
	tbl.ComputeWeights(2)
	first, firstTotal := tbl.ItemWeights, tbl.TotalItemWeight
	tbl.ComputeWeights(2)
	if tbl.ItemWeights != first || tbl.TotalItemWeight != firstTotal {
		t.Fatalf("weights changed on recompute: %v/%d vs %v/%d", first, firstTotal, tbl.ItemWeights, tbl.TotalItemWeight)
	}
	want := [rarity.Count]int{2 * 16000, 8000, 0, 0, 1000}
	if first != want || firstTotal != 41000 {
		t.Fatalf("weights = %v total %d, want %v total 41000", first, firstTotal, want)
	}
	if tbl.TotalBlueprintWeight != 0 {
		t.Fatalf("blueprint weight = %d", tbl.TotalBlueprintWeight)
	}
}

func TestClampCount(t *testing.T) {
	tbl := &LootTable{ItemCountMin: 5, ItemCountMax: 8, Items: map[string]Amount{"a": {}, "b": {}, "c": {}}}
	if got := tbl.ClampCount(7); got != 3 {
		t.Fatalf("ClampCount(7) = %d, want 3", got)
	}
	tbl.ItemCountMin = 2
	if got := tbl.ClampCount(7); got != 7 {
		t.Fatalf("catalog count inside range must not clamp, got %d", got)
	}
	tbl.Items = nil
	tbl.ItemCountMin = 5
	if got := tbl.ClampCount(7); got != 7 {
		t.Fatalf("empty catalog must not clamp, got %d", got)
	}
}

func TestRegistryLoad_BuildsWatchedAndPersists(t *testing.T) {
	store := &memStore{}
	r := NewRegistry(testCatalog(), tuning.Defaults(), store, nil)
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("new tables should be persisted immediately, saves=%d", store.saves)
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "crate_basic" || ids[1] != "crate_event_xmas" {
		t.Fatalf("ids = %v", ids)
	}
	basic, _ := r.Lookup("crate_basic")
	if !basic.Enabled || basic.ItemCountMin != 2 || basic.ItemCountMax != 4 || basic.ScrapAmount != 2 || basic.MaxBlueprints != 1 {
		t.Fatalf("crate_basic defaults: %+v", basic.Summary())
	}
	if basic.TotalItemWeight == 0 || basic.TotalBlueprintWeight == 0 {
		t.Fatalf("weights not computed: %+v", basic.Summary())
	}
	event, _ := r.Lookup("crate_event_xmas")
	if event.Enabled {
		t.Fatalf("event crate should default to disabled")
	}
	if _, ok := r.Lookup("barrel"); ok {
		t.Fatalf("non-lootable prefab should not be built")
	}

	// A second load reuses the persisted document without saving again.
	r2 := NewRegistry(testCatalog(), tuning.Defaults(), store, nil)
	if err := r2.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("unchanged reload should not save, saves=%d", store.saves)
	}
}

func TestRegistryLoad_PrunesAndBackfills(t *testing.T) {
	doc := overrides.NewDocument()
	doc.Version = 1
	doc.Tables["crate_removed"] = &overrides.TableOverride{Enabled: overrides.Bool(true)}
	doc.Tables["crate_basic"] = &overrides.TableOverride{
		Enabled:      overrides.Bool(false),
		ItemCountMin: overrides.Int(3),
		ItemCountMax: overrides.Int(3),
	}
	store := &memStore{doc: doc}
	tune := tuning.Defaults()
	tune.Watched = []string{"crate_basic"}

	r := NewRegistry(testCatalog(), tune, store, nil)
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := store.doc.Tables["crate_removed"]; ok {
		t.Fatalf("table for removed prefab should be pruned")
	}
	o := store.doc.Tables["crate_basic"]
	if o.MaxBlueprints == nil || *o.MaxBlueprints != 1 || o.Items == nil || o.ScrapAmount == nil {
		t.Fatalf("missing fields not backfilled: %+v", o)
	}
	if *o.Enabled || *o.ItemCountMin != 3 {
		t.Fatalf("hand edits must survive backfill: %+v", o)
	}
	if store.saves != 1 || store.doc.Version != overrides.CurrentVersion {
		t.Fatalf("expected one save at current version, saves=%d version=%d", store.saves, store.doc.Version)
	}
	if _, ok := r.Lookup("crate_event_xmas"); ok {
		t.Fatalf("unwatched prefab should not be built")
	}
}

func TestRegistryLoad_LeavesUnwatchedEntriesAlone(t *testing.T) {
	doc := overrides.NewDocument()
	// A hand-tuned entry for a type the server no longer watches.
	doc.Tables["crate_event_xmas"] = &overrides.TableOverride{
		Enabled:      overrides.Bool(true),
		ItemCountMin: overrides.Int(5),
	}
	store := &memStore{doc: doc}
	tune := tuning.Defaults()
	tune.Watched = []string{"crate_basic"}

	r := NewRegistry(testCatalog(), tune, store, nil)
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != "crate_basic" {
		t.Fatalf("only watched types should be built, ids = %v", ids)
	}
	if r.Watches("crate_event_xmas") {
		t.Fatalf("persisted entry must not make a type watched")
	}
	if _, ok := r.Ensure("crate_event_xmas"); ok {
		t.Fatalf("ensure must not build an unwatched type")
	}
	o, ok := store.doc.Tables["crate_event_xmas"]
	if !ok {
		t.Fatalf("unwatched entry dropped from the document")
	}
	if o.ItemCountMax != nil || o.Items != nil || *o.ItemCountMin != 5 || !*o.Enabled {
		t.Fatalf("unwatched entry modified: %+v", o)
	}
	if !r.Watches("crate_basic") {
		t.Fatalf("crate_basic should be watched")
	}
}

func TestRegistryEnsure_ExtendsLazily(t *testing.T) {
	store := &memStore{}
	tune := tuning.Defaults()
	tune.Watched = []string{"crate_basic", "crate_event_xmas"}
	cat := testCatalog()
	r := NewRegistry(cat, tune, store, nil)
	// Load only knows crate_basic until the watched list grows below.
	r.watched = map[string]bool{"crate_basic": true}
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	saves := store.saves
	r.watched["crate_event_xmas"] = true

	tbl, ok := r.Ensure("crate_event_xmas")
	if !ok || tbl == nil {
		t.Fatalf("ensure should build watched table")
	}
	if !r.Dirty() || store.saves != saves {
		t.Fatalf("ensure should mark dirty without saving")
	}
	if _, ok := r.Ensure("barrel"); ok {
		t.Fatalf("unwatched prefab must not be built")
	}
	if err := r.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if r.Dirty() || store.saves != saves+1 {
		t.Fatalf("flush should save once")
	}
	if _, ok := store.doc.Tables["crate_event_xmas"]; !ok {
		t.Fatalf("extended table not persisted")
	}
}

func TestRegistryLoad_CorruptStoreAborts(t *testing.T) {
	p := filepath.Join(t.TempDir(), "loot_tables.json")
	if err := os.WriteFile(p, []byte(`{"version":2,"tables":[`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := overrides.Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := NewRegistry(testCatalog(), tuning.Defaults(), store, nil)
	if err := r.Load(); !errors.Is(err, overrides.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if len(r.IDs()) != 0 {
		t.Fatalf("registry should stay empty on abort")
	}
}
