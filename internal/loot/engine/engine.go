// Package engine wires the loot registry, selector and populator into the
// handle the simulation calls from its spawn and refresh paths.
package engine

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"

	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/loot/populate"
	"crateloot.ai/internal/loot/rng"
	"crateloot.ai/internal/loot/selector"
	"crateloot.ai/internal/loot/stacked"
	"crateloot.ai/internal/loot/tables"
	"crateloot.ai/internal/sim/tuning"
)

var (
	ErrUnknownItem    = errors.New("unknown item")
	ErrNotBlacklisted = errors.New("item not blacklisted")
	ErrNoRegistry     = errors.New("registry not loaded")
)

// Container is a spawned lootable container as seen by the engine.
type Container interface {
	populate.Container
	stacked.Spawn
	ID() string
	WorldPos() [3]float64
}

// World is the slice of the simulation the bulk refresh needs.
type World interface {
	ActiveContainers() []Container
	Despawn(c Container)
}

type BlacklistStore interface {
	LoadBlacklist() ([]string, error)
	AddBlacklist(itemID string) error
	RemoveBlacklist(itemID string) error
}

// Sink receives a record of every generated loadout. Implementations must not block.
type Sink interface {
	RecordLoadout(rec loadout.Record) error
}

type Config struct {
	Catalog   tables.Catalog
	Registry  *tables.Registry
	Tuning    tuning.Tuning
	Blacklist BlacklistStore
	Sinks     []Sink
	Rand      rng.Source
	Clock     func() uint64
	Logger    *zap.Logger
}

type Engine struct {
	cat      tables.Catalog
	registry *tables.Registry
	tune     tuning.Tuning
	store    BlacklistStore
	sinks    []Sink
	clock    func() uint64
	log      *zap.Logger

	black mapset.Set[string]
	pop   *populate.Populator
}

// New loads the persisted blacklist. The registry must already be loaded.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rand == nil {
		cfg.Rand = rng.New(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = func() uint64 { return 0 }
	}
	e := &Engine{
		cat:      cfg.Catalog,
		registry: cfg.Registry,
		tune:     cfg.Tuning,
		store:    cfg.Blacklist,
		sinks:    make([]Sink, 0, len(cfg.Sinks)),
		clock:    cfg.Clock,
		log:      cfg.Logger,
		black:    mapset.New[string](),
	}
	if isNil(e.store) {
		e.store = nil
	}
	for _, sk := range cfg.Sinks {
		if !isNil(sk) {
			e.sinks = append(e.sinks, sk)
		}
	}
	if e.store != nil {
		ids, err := e.store.LoadBlacklist()
		if err != nil {
			return nil, fmt.Errorf("load blacklist: %w", err)
		}
		for _, id := range ids {
			e.black.Put(id)
		}
	}

	sel := selector.New(cfg.Catalog, cfg.Rand, selector.Config{
		BlueprintProbability: cfg.Tuning.BlueprintProbability,
		LootMultiplier:       cfg.Tuning.LootMultiplier,
		BlueprintItem:        cfg.Tuning.BlueprintItem,
	})
	e.pop = populate.New(cfg.Registry, sel, cfg.Catalog, e.black, cfg.Rand, populate.Config{
		ScrapItem:       cfg.Tuning.ScrapItem,
		ScrapMultiplier: cfg.Tuning.ScrapMultiplier,
	}, cfg.Logger.Named("populate"))

	e.log.Info("loot engine ready",
		zap.Int("tables", len(cfg.Registry.IDs())),
		zap.Int("blacklisted", e.black.Size()),
	)
	return e, nil
}

// Populate is the spawn hook. True means the engine owns the container's
// contents and the caller must skip its default loot.
func (e *Engine) Populate(c Container) bool {
	l, ok := e.pop.Populate(c)
	if !ok {
		return false
	}
	if len(e.sinks) > 0 {
		rec := l.Record(e.clock(), c.ID(), c.PrefabID(), c.WorldPos())
		for _, s := range e.sinks {
			if err := s.RecordLoadout(rec); err != nil {
				e.log.Warn("loadout sink", zap.String("loadout", rec.LoadoutID), zap.Error(err))
			}
		}
	}
	return true
}

type RefreshResult struct {
	Watched     int `json:"watched"`
	Removed     int `json:"removed"`
	Repopulated int `json:"repopulated"`
	Skipped     int `json:"skipped"`
}

// RefreshAll removes stacked duplicate spawns among watched containers and
// then re-populates every survivor.
func (e *Engine) RefreshAll(w World) RefreshResult {
	var watched []Container
	for _, c := range w.ActiveContainers() {
		if e.registry.Watches(c.PrefabID()) {
			watched = append(watched, c)
		}
	}

	gone := map[string]bool{}
	removed := stacked.Resolve(watched, e.tune.StackedSpawnThreshold, func(c Container) {
		gone[c.ID()] = true
		w.Despawn(c)
	})

	res := RefreshResult{Watched: len(watched), Removed: removed}
	for _, c := range watched {
		if gone[c.ID()] {
			continue
		}
		if e.Populate(c) {
			res.Repopulated++
		} else {
			res.Skipped++
		}
	}
	e.log.Info("loot refresh",
		zap.Int("watched", res.Watched),
		zap.Int("stacked_removed", res.Removed),
		zap.Int("repopulated", res.Repopulated),
		zap.Int("skipped", res.Skipped),
	)
	return res
}

func (e *Engine) AddToBlacklist(itemID string) error {
	if _, ok := e.cat.ResolveItem(itemID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	if e.black.Has(itemID) {
		return nil
	}
	if e.store != nil {
		if err := e.store.AddBlacklist(itemID); err != nil {
			return err
		}
	}
	e.black.Put(itemID)
	e.log.Info("item blacklisted", zap.String("item", itemID))
	return nil
}

func (e *Engine) RemoveFromBlacklist(itemID string) error {
	if !e.black.Has(itemID) {
		return fmt.Errorf("%w: %s", ErrNotBlacklisted, itemID)
	}
	if e.store != nil {
		if err := e.store.RemoveBlacklist(itemID); err != nil {
			return err
		}
	}
	e.black.Remove(itemID)
	e.log.Info("item removed from blacklist", zap.String("item", itemID))
	return nil
}

func (e *Engine) Blacklisted(itemID string) bool { return e.black.Has(itemID) }

func (e *Engine) Blacklist() []string {
	out := make([]string, 0, e.black.Size())
	e.black.Each(func(id string) { out = append(out, id) })
	sort.Strings(out)
	return out
}

// Flush persists registry entries added since startup.
func (e *Engine) Flush() error {
	if err := e.registry.Flush(); err != nil {
		return fmt.Errorf("save overrides: %w", err)
	}
	return nil
}

func (e *Engine) Tables() []tables.Summary { return e.registry.Summaries() }

// isNil also catches a nil pointer stored in an interface, which callers
// produce when they pass an optional *T straight through.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
