package engine

import (
	"errors"
	"testing"

	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/loot/populate"
	"crateloot.ai/internal/loot/rarity"
	"crateloot.ai/internal/loot/rng"
	"crateloot.ai/internal/loot/tables"
	"crateloot.ai/internal/persistence/overrides"
	"crateloot.ai/internal/sim/catalogs"
	"crateloot.ai/internal/sim/tuning"
)

func testCatalog() *catalogs.Catalogs {
	c := &catalogs.Catalogs{}
	c.Items.Defs = map[string]catalogs.ItemDef{}
	for _, d := range []catalogs.ItemDef{
		{ID: "rope", Rarity: rarity.Common, MaxStack: 10},
		{ID: "cloth", Rarity: rarity.Common, MaxStack: 10},
		{ID: "gears", Rarity: rarity.Uncommon, MaxStack: 5},
		{ID: "pistol", Rarity: rarity.Rare, MaxStack: 1},
	} {
		c.Items.Defs[d.ID] = d
		c.Items.IDs = append(c.Items.IDs, d.ID)
	}
	c.Prefabs.Defs = map[string]catalogs.PrefabDef{
		"crate": {ID: "crate", Lootable: true, Slots: catalogs.Range{Min: 2, Max: 2}, ScrapAmount: 1,
			Loot: catalogs.LootSpec{Entries: []catalogs.LootSpec{
				{Item: "rope", Min: 1, Max: 2},
				{Item: "cloth", Min: 1, Max: 2},
				{Item: "gears", Min: 1, Max: 1},
				{Item: "pistol"},
			}}},
		"barrel": {ID: "barrel", Lootable: false, Slots: catalogs.Range{Min: 1, Max: 1},
			Loot: catalogs.LootSpec{Item: "rope"}},
	}
	c.Prefabs.IDs = []string{"barrel", "crate"}
	return c
}

type memStore struct {
	doc   *overrides.Document
	saves int
}

func (m *memStore) Load() (*overrides.Document, error) {
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

type memBlacklist struct {
	ids  map[string]bool
	fail error
}

func (m *memBlacklist) LoadBlacklist() ([]string, error) {
	var out []string
	for id := range m.ids {
		out = append(out, id)
	}
	return out, nil
}

func (m *memBlacklist) AddBlacklist(id string) error {
	if m.fail != nil {
		return m.fail
	}
	m.ids[id] = true
	return nil
}

func (m *memBlacklist) RemoveBlacklist(id string) error {
	delete(m.ids, id)
	return nil
}

type sliceSink struct{ recs []loadout.Record }

func (s *sliceSink) RecordLoadout(rec loadout.Record) error {
	s.recs = append(s.recs, rec)
	return nil
}

type inv struct {
	slots    []loadout.Instance
	capacity int
}

func (i *inv) Insert(inst loadout.Instance) bool {
	if len(i.slots) >= i.capacity {
		return false
	}
	i.slots = append(i.slots, inst)
	return true
}
func (i *inv) Len() int          { return len(i.slots) }
func (i *inv) SetCapacity(n int) { i.capacity = n }
func (i *inv) MarkDirty()        {}

type box struct {
	id     string
	prefab string
	x, z   float64
	inv    *inv
}

func (b *box) PrefabID() string             { return b.prefab }
func (b *box) ID() string                   { return b.id }
func (b *box) WorldPos() [3]float64         { return [3]float64{b.x, 0, b.z} }
func (b *box) Position() (float64, float64) { return b.x, b.z }
func (b *box) Rebroadcast()                 {}
func (b *box) ResetInventory(capacity int) populate.Inventory {
	b.inv = &inv{capacity: capacity}
	return b.inv
}

type fakeWorld struct {
	boxes     []*box
	despawned []string
}

func (w *fakeWorld) ActiveContainers() []Container {
	out := make([]Container, 0, len(w.boxes))
	for _, b := range w.boxes {
		out = append(out, b)
	}
	return out
}

func (w *fakeWorld) Despawn(c Container) { w.despawned = append(w.despawned, c.ID()) }

func newEngine(t *testing.T, black *memBlacklist, sinks ...Sink) *Engine {
	t.Helper()
	cat := testCatalog()
	tune := tuning.Defaults()
	tune.Watched = []string{"crate"}
	reg := tables.NewRegistry(cat, tune, &memStore{}, nil)
	if err := reg.Load(); err != nil {
		t.Fatalf("registry load: %v", err)
	}
	cfg := Config{
		Catalog:  cat,
		Registry: reg,
		Tuning:   tune,
		Sinks:    sinks,
		Rand:     rng.New(7),
		Clock:    func() uint64 { return 42 },
	}
	if black != nil {
		cfg.Blacklist = black
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestNew_RequiresRegistry(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoRegistry) {
		t.Fatalf("expected ErrNoRegistry, got %v", err)
	}
}

func TestPopulate_RecordsToSinks(t *testing.T) {
	sink := &sliceSink{}
	e := newEngine(t, nil, sink)

	b := &box{id: "c1", prefab: "crate", x: 1, z: 2}
	if !e.Populate(b) {
		t.Fatalf("crate should be handled")
	}
	if len(sink.recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.recs))
	}
	rec := sink.recs[0]
	if rec.Tick != 42 || rec.ContainerID != "c1" || rec.PrefabID != "crate" || rec.Pos != [3]float64{1, 0, 2} {
		t.Fatalf("unexpected record header: %+v", rec)
	}
	if len(rec.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(rec.Items))
	}
	if rec.Scrap != 1 {
		t.Fatalf("expected scrap 1, got %d", rec.Scrap)
	}

	if e.Populate(&box{id: "c2", prefab: "barrel"}) {
		t.Fatalf("barrel is not watched")
	}
	if len(sink.recs) != 1 {
		t.Fatalf("fallback must not be recorded")
	}
}

func TestBlacklist_AddRemove(t *testing.T) {
	store := &memBlacklist{ids: map[string]bool{"cloth": true}}
	e := newEngine(t, store)

	if !e.Blacklisted("cloth") {
		t.Fatalf("persisted entry not loaded")
	}
	if err := e.AddToBlacklist("nope"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if err := e.AddToBlacklist("rope"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.AddToBlacklist("rope"); err != nil {
		t.Fatalf("repeat add: %v", err)
	}
	if !store.ids["rope"] {
		t.Fatalf("add not persisted")
	}
	if got := e.Blacklist(); len(got) != 2 || got[0] != "cloth" || got[1] != "rope" {
		t.Fatalf("unexpected blacklist: %v", got)
	}
	if err := e.RemoveFromBlacklist("gears"); !errors.Is(err, ErrNotBlacklisted) {
		t.Fatalf("expected ErrNotBlacklisted, got %v", err)
	}
	if err := e.RemoveFromBlacklist("rope"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if e.Blacklisted("rope") || store.ids["rope"] {
		t.Fatalf("remove not applied")
	}
}

func TestBlacklist_StoreFailureKeepsMemory(t *testing.T) {
	store := &memBlacklist{ids: map[string]bool{}, fail: errors.New("disk full")}
	e := newEngine(t, store)
	if err := e.AddToBlacklist("rope"); err == nil {
		t.Fatalf("expected store error")
	}
	if e.Blacklisted("rope") {
		t.Fatalf("memory updated despite store failure")
	}
}

func TestPopulate_SkipsBlacklisted(t *testing.T) {
	e := newEngine(t, &memBlacklist{ids: map[string]bool{"rope": true, "cloth": true}})
	for i := 0; i < 200; i++ {
		b := &box{id: "c", prefab: "crate"}
		e.Populate(b)
		for _, inst := range b.inv.slots {
			if inst.ItemID == "rope" || inst.ItemID == "cloth" {
				t.Fatalf("blacklisted item %s spawned", inst.ItemID)
			}
		}
	}
}

func TestRefreshAll_RemovesStackedAndRepopulates(t *testing.T) {
	e := newEngine(t, nil)
	w := &fakeWorld{boxes: []*box{
		{id: "a", prefab: "crate", x: 0, z: 0},
		{id: "b", prefab: "crate", x: 0.1, z: 0.1},
		{id: "c", prefab: "crate", x: 0, z: 0.1},
		{id: "d", prefab: "crate", x: 50, z: 50},
		{id: "e", prefab: "barrel", x: 0, z: 0},
	}}
	res := e.RefreshAll(w)
	if res.Watched != 4 || res.Removed != 2 || res.Repopulated != 2 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(w.despawned) != 2 {
		t.Fatalf("expected 2 despawns, got %v", w.despawned)
	}
	for _, b := range w.boxes {
		if b.id == "a" || b.id == "d" {
			if b.inv == nil {
				t.Fatalf("survivor %s not repopulated", b.id)
			}
		}
		if b.id == "e" && b.inv != nil {
			t.Fatalf("unwatched container touched")
		}
	}
}

func TestTablesAndFlush(t *testing.T) {
	e := newEngine(t, nil)
	sums := e.Tables()
	if len(sums) != 1 || sums[0].ID != "crate" {
		t.Fatalf("unexpected tables: %+v", sums)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestNew_IgnoresNilPointerStoreAndSink(t *testing.T) {
	cat := testCatalog()
	tune := tuning.Defaults()
	reg := tables.NewRegistry(cat, tune, &memStore{}, nil)
	if err := reg.Load(); err != nil {
		t.Fatalf("registry load: %v", err)
	}
	var black *memBlacklist
	var sink *sliceSink
	e, err := New(Config{
		Catalog:   cat,
		Registry:  reg,
		Tuning:    tune,
		Blacklist: black,
		Sinks:     []Sink{sink},
		Rand:      rng.New(1),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if !e.Populate(&box{id: "c1", prefab: "crate"}) {
		t.Fatalf("crate should be engine-populated")
	}
	if err := e.AddToBlacklist("rope"); err != nil || !e.Blacklisted("rope") {
		t.Fatalf("in-memory blacklist edit failed: %v", err)
	}
	if err := e.RemoveFromBlacklist("rope"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
