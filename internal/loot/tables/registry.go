package tables

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"crateloot.ai/internal/loot/rarity"
	"crateloot.ai/internal/persistence/overrides"
	"crateloot.ai/internal/sim/catalogs"
	"crateloot.ai/internal/sim/tuning"
)

// Catalog is the read-only asset lookup the registry needs.
type Catalog interface {
	ItemCatalog
	ResolvePrefab(id string) (*catalogs.PrefabDef, bool)
	LootablePrefabIDs() []string
}

// Store persists the override document.
type Store interface {
	Load() (*overrides.Document, error)
	Save(doc *overrides.Document) error
}

// Registry owns one LootTable per container type. It is mutated during
// Load and by Ensure; all calls come from the simulation goroutine.
type Registry struct {
	cat   Catalog
	tune  tuning.Tuning
	store Store
	log   *zap.Logger

	overrides map[string]rarity.Tier
	watched   map[string]bool

	doc    *overrides.Document
	tables map[string]*LootTable
	dirty  bool
}

func NewRegistry(cat Catalog, tune tuning.Tuning, store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cat:       cat,
		tune:      tune,
		store:     store,
		log:       logger,
		overrides: tune.Overrides(),
		tables:    map[string]*LootTable{},
	}
	if len(tune.Watched) > 0 {
		r.watched = make(map[string]bool, len(tune.Watched))
		for _, id := range tune.Watched {
			r.watched[id] = true
		}
	}
	return r
}

// Load reconciles the persisted overrides with the live catalog and builds
// the table of every watched type. A store that cannot be read is returned
// as an error; the caller must not run with an empty registry.
func (r *Registry) Load() error {
	doc, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	r.doc = doc
	r.tables = map[string]*LootTable{}
	r.dirty = doc.Version < overrides.CurrentVersion

	var pruned, backfilled, built int
	for _, id := range doc.IDs() {
		prefab, ok := r.cat.ResolvePrefab(id)
		if !ok {
			delete(doc.Tables, id)
			r.dirty = true
			pruned++
			continue
		}
		if r.isWatched(id) && r.backfill(id, doc.Tables[id], prefab) {
			r.dirty = true
			backfilled++
		}
	}

	for _, id := range r.watchedIDs() {
		if _, ok := doc.Tables[id]; ok {
			continue
		}
		prefab, ok := r.cat.ResolvePrefab(id)
		if !ok {
			r.log.Warn("watched container type not in catalog", zap.String("prefab", id))
			continue
		}
		doc.Tables[id] = r.defaults(id, prefab)
		r.dirty = true
		built++
	}

	// Entries for types that are no longer watched stay in the document
	// untouched, so hand edits survive a watch-list change.
	var kept int
	for _, id := range doc.IDs() {
		if !r.isWatched(id) {
			kept++
			continue
		}
		r.tables[id] = r.materialize(id, doc.Tables[id])
	}

	r.log.Info("loot tables loaded",
		zap.Int("tables", len(r.tables)),
		zap.Int("built", built),
		zap.Int("pruned", pruned),
		zap.Int("backfilled", backfilled),
		zap.Int("unwatched", kept),
	)
	if err := r.Flush(); err != nil {
		return fmt.Errorf("save overrides: %w", err)
	}
	return nil
}

// Lookup never builds.
func (r *Registry) Lookup(id string) (*LootTable, bool) {
	t, ok := r.tables[id]
	return t, ok
}

// Ensure returns the table for id, building it on first sight of a watched
// container type. The new entry is persisted by the next Flush.
func (r *Registry) Ensure(id string) (*LootTable, bool) {
	if t, ok := r.tables[id]; ok {
		return t, true
	}
	if r.doc == nil || !r.isWatched(id) {
		return nil, false
	}
	prefab, ok := r.cat.ResolvePrefab(id)
	if !ok {
		return nil, false
	}
	o, ok := r.doc.Tables[id]
	if !ok {
		o = r.defaults(id, prefab)
		r.doc.Tables[id] = o
		r.dirty = true
	}
	t := r.materialize(id, o)
	r.tables[id] = t
	r.log.Info("loot table added", zap.String("prefab", id), zap.Int("items", t.CatalogCount()))
	return t, true
}

// Watches reports whether containers of this type are owned by the engine.
func (r *Registry) Watches(id string) bool {
	return r.isWatched(id)
}

func (r *Registry) Dirty() bool { return r.dirty }

// Flush persists the override document if anything changed since the last save.
func (r *Registry) Flush() error {
	if !r.dirty || r.doc == nil {
		return nil
	}
	r.doc.Version = overrides.CurrentVersion
	if err := r.store.Save(r.doc); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.tables))
	for _, id := range r.IDs() {
		out = append(out, r.tables[id].Summary())
	}
	return out
}

func (r *Registry) isWatched(id string) bool {
	if r.watched != nil {
		return r.watched[id]
	}
	p, ok := r.cat.ResolvePrefab(id)
	return ok && p.Lootable
}

func (r *Registry) watchedIDs() []string {
	if r.watched == nil {
		return r.cat.LootablePrefabIDs()
	}
	ids := make([]string, 0, len(r.watched))
	for id := range r.watched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) defaults(id string, prefab *catalogs.PrefabDef) *overrides.TableOverride {
	items := map[string]overrides.ItemEntry{}
	for _, e := range Flatten(prefab.Loot) {
		items[e.Item] = overrides.ItemEntry{Min: e.Amount.Min, Max: e.Amount.Max, Blueprint: e.Amount.Blueprint}
	}
	return &overrides.TableOverride{
		Enabled:       overrides.Bool(!r.tune.DisabledByDefault(id)),
		ScrapAmount:   overrides.Int(prefab.ScrapAmount),
		ItemCountMin:  overrides.Int(prefab.Slots.Min),
		ItemCountMax:  overrides.Int(prefab.Slots.Max),
		MaxBlueprints: overrides.Int(r.tune.MaxBlueprintsDefault),
		Items:         items,
	}
}

// backfill fills fields missing from older documents with freshly derived defaults.
func (r *Registry) backfill(id string, o *overrides.TableOverride, prefab *catalogs.PrefabDef) bool {
	d := r.defaults(id, prefab)
	changed := false
	if o.Enabled == nil {
		o.Enabled, changed = d.Enabled, true
	}
	if o.ScrapAmount == nil {
		o.ScrapAmount, changed = d.ScrapAmount, true
	}
	if o.ItemCountMin == nil {
		o.ItemCountMin, changed = d.ItemCountMin, true
	}
	if o.ItemCountMax == nil {
		o.ItemCountMax, changed = d.ItemCountMax, true
	}
	if o.MaxBlueprints == nil {
		o.MaxBlueprints, changed = d.MaxBlueprints, true
	}
	if o.Items == nil {
		o.Items, changed = d.Items, true
	}
	return changed
}

func (r *Registry) materialize(id string, o *overrides.TableOverride) *LootTable {
	t := &LootTable{
		ID:            id,
		Enabled:       deref(o.Enabled, true),
		ScrapAmount:   deref(o.ScrapAmount, 0),
		ItemCountMin:  deref(o.ItemCountMin, 0),
		ItemCountMax:  deref(o.ItemCountMax, 0),
		MaxBlueprints: deref(o.MaxBlueprints, r.tune.MaxBlueprintsDefault),
		Items:         make(map[string]Amount, len(o.Items)),
	}
	if t.ItemCountMin < 0 {
		t.ItemCountMin = 0
	}
	if t.ItemCountMax < t.ItemCountMin {
		t.ItemCountMax = t.ItemCountMin
	}
	for item, e := range o.Items {
		t.Items[item] = Amount{Min: e.Min, Max: e.Max, Blueprint: e.Blueprint}
	}
	t.BuildBuckets(r.cat, r.overrides)
	t.ComputeWeights(r.tune.BaseRarity)
	return t
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
