// Package populate fills a container's inventory from its loot table.
package populate

import (
	"math"

	"go.uber.org/zap"

	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/loot/rng"
	"crateloot.ai/internal/loot/selector"
	"crateloot.ai/internal/loot/tables"
)

// RetriesPerItem scales the retry budget of one population call.
const RetriesPerItem = 10

// Inventory is the slot storage of a spawned container.
type Inventory interface {
	// Insert reports false when no slot is free.
	Insert(inst loadout.Instance) bool
	Len() int
	SetCapacity(n int)
	MarkDirty()
}

// Container is a spawned lootable container owned by the simulation.
type Container interface {
	PrefabID() string
	// ResetInventory clears (or lazily creates) the inventory at the given capacity.
	ResetInventory(capacity int) Inventory
	Rebroadcast()
}

type Tables interface {
	Ensure(prefabID string) (*tables.LootTable, bool)
}

type Blacklist interface {
	Has(itemID string) bool
}

type Config struct {
	ScrapItem       string
	ScrapMultiplier float64
}

type Populator struct {
	tables Tables
	sel    *selector.Selector
	cat    tables.ItemCatalog
	black  Blacklist
	rnd    rng.Source
	cfg    Config
	log    *zap.Logger
}

func New(t Tables, sel *selector.Selector, cat tables.ItemCatalog, black Blacklist, rnd rng.Source, cfg Config, logger *zap.Logger) *Populator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Populator{tables: t, sel: sel, cat: cat, black: black, rnd: rnd, cfg: cfg, log: logger}
}

// Populate replaces c's contents with a fresh loadout. It reports false when
// the container type is untracked or disabled; the caller then falls back to
// its own loot. It never panics and performs no I/O.
func (p *Populator) Populate(c Container) (*loadout.Loadout, bool) {
	t, ok := p.tables.Ensure(c.PrefabID())
	if !ok || !t.Enabled {
		return nil, false
	}

	target := p.TargetCount(t)
	inv := c.ResetInventory(tables.MaxSlots)
	l := loadout.New()
	budget := selector.NewBudget(RetriesPerItem * target)

	for accepted := 0; accepted < target; {
		inst, ok := p.sel.Select(t, l.Blueprints() >= t.MaxBlueprints, budget)
		if !ok {
			break
		}
		if l.Conflicts(inst) || p.broken(inst) {
			if !budget.Take() {
				break
			}
			continue
		}
		l.Add(inst)
		accepted++
	}

	// Blacklisted picks are filtered after the fact: they used up their slot.
	blacklisted := l.Drop(p.blacklisted)

	dropped := l.Drop(func(inst loadout.Instance) bool { return !inv.Insert(inst) })

	if t.ScrapAmount > 0 {
		amount := int(math.Round(float64(t.ScrapAmount) * p.cfg.ScrapMultiplier))
		if amount > 0 && inv.Insert(loadout.Instance{ItemID: p.cfg.ScrapItem, Amount: amount}) {
			l.Scrap = amount
		}
	}

	inv.SetCapacity(inv.Len())
	inv.MarkDirty()
	c.Rebroadcast()

	if ce := p.log.Check(zap.DebugLevel, "container populated"); ce != nil {
		ce.Write(
			zap.String("prefab", t.ID),
			zap.String("loadout", l.ID),
			zap.Int("target", target),
			zap.Int("items", l.Len()),
			zap.Int("blacklisted", blacklisted),
			zap.Int("dropped", dropped),
			zap.Int("retries_left", budget.Left()),
		)
	}
	return l, true
}

// TargetCount draws the number of items for one container. The range is
// interpolated in hundredths and rounded, then clamped to the catalogued
// item count and the slot ceiling.
func (p *Populator) TargetCount(t *tables.LootTable) int {
	v := rng.Between(p.rnd, t.ItemCountMin*100, t.ItemCountMax*100)
	n := int(math.Round(float64(v) / 100))
	n = t.ClampCount(n)
	if n > tables.MaxSlots {
		n = tables.MaxSlots
	}
	if n < 0 {
		n = 0
	}
	return n
}

func (p *Populator) broken(inst loadout.Instance) bool {
	def, ok := p.cat.ResolveItem(inst.Subject())
	return !ok || def.Broken
}

func (p *Populator) blacklisted(inst loadout.Instance) bool {
	if p.black == nil {
		return false
	}
	return p.black.Has(inst.Subject())
}
