package world

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crateloot.ai/internal/loot/engine"
	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/loot/tables"
	"crateloot.ai/internal/observerproto"
	"crateloot.ai/internal/sim/catalogs"
)

var (
	ErrUnknownPrefab = errors.New("unknown prefab")
	ErrNoEngine      = errors.New("loot engine not configured")
)

// LootEngine is the loot surface the world drives. *engine.Engine implements it.
type LootEngine interface {
	Populate(c engine.Container) bool
	RefreshAll(w engine.World) engine.RefreshResult
	AddToBlacklist(itemID string) error
	RemoveFromBlacklist(itemID string) error
	Blacklist() []string
	Tables() []tables.Summary
	Flush() error
}

type Stats struct {
	Spawned       uint64 `json:"spawned"`
	EngineFilled  uint64 `json:"engine_filled"`
	DefaultFilled uint64 `json:"default_filled"`
	Despawned     uint64 `json:"despawned"`
	Refreshes     uint64 `json:"refreshes"`
	ObserverDrops uint64 `json:"observer_drops"`
}

// World is a single-threaded authoritative simulation of spawned containers.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	log      *zap.Logger
	engine   LootEngine

	tick atomic.Uint64

	containers map[string]*Container
	order      []*Container

	sched    []*task
	nextTask uint64
	// refreshPending coalesces refreshes requested by blacklist edits.
	refreshPending bool
	flushPending   bool

	dirty     []*Container
	removed   []observerproto.ContainerRemovedMsg
	observers map[string]*observerClient

	spawn         chan spawnReq
	admin         chan adminReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}

	stats Stats
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, logger *zap.Logger) (*World, error) {
	if cats == nil {
		return nil, fmt.Errorf("world: nil catalogs")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &World{
		cfg:           cfg,
		catalogs:      cats,
		log:           logger,
		containers:    map[string]*Container{},
		observers:     map[string]*observerClient{},
		spawn:         make(chan spawnReq, 256),
		admin:         make(chan adminReq, 64),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
	}, nil
}

// SetEngine installs the loot engine. Call before Run.
func (w *World) SetEngine(e LootEngine) { w.engine = e }

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) ID() string { return w.cfg.ID }

// CurrentTick is safe to call from any goroutine.
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Stats() Stats { return w.stats }

// Spawn places a container and lets the loot engine fill it. Containers the
// engine declines get the default population of their prefab.
func (w *World) Spawn(prefabID string, pos Vec3) (*Container, error) {
	prefab, ok := w.catalogs.ResolvePrefab(prefabID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrefab, prefabID)
	}
	c := &Container{id: uuid.NewString(), prefabID: prefabID, Pos: pos, w: w}
	w.containers[c.id] = c
	w.order = append(w.order, c)
	w.stats.Spawned++

	if w.engine != nil && w.engine.Populate(c) {
		c.engineLoot = true
		w.stats.EngineFilled++
		w.scheduleFlush()
	} else {
		w.defaultFill(c, prefab)
		w.stats.DefaultFilled++
	}
	return c, nil
}

// defaultFill gives every authored leaf its minimum amount, in authored order.
func (w *World) defaultFill(c *Container, prefab *catalogs.PrefabDef) {
	capacity := prefab.Slots.Max
	if capacity <= 0 {
		capacity = 1
	}
	if capacity > tables.MaxSlots {
		capacity = tables.MaxSlots
	}
	inv := c.reset(capacity)
	for _, e := range tables.Flatten(prefab.Loot) {
		lo, _ := e.Amount.Clamped()
		if lo <= 0 {
			lo = 1
		}
		if !inv.Insert(loadout.Instance{ItemID: e.Item, Amount: lo}) {
			break
		}
	}
	inv.MarkDirty()
	c.Rebroadcast()
}

// Lookup never creates.
func (w *World) Lookup(id string) (*Container, bool) {
	c, ok := w.containers[id]
	return c, ok
}

// ActiveContainers lists live containers in spawn order.
func (w *World) ActiveContainers() []engine.Container {
	out := make([]engine.Container, 0, len(w.order))
	for _, c := range w.order {
		out = append(out, c)
	}
	return out
}

func (w *World) Containers() []*Container {
	return append([]*Container(nil), w.order...)
}

func (w *World) Despawn(ec engine.Container) {
	c, ok := w.containers[ec.ID()]
	if !ok {
		return
	}
	delete(w.containers, c.id)
	for i, o := range w.order {
		if o == c {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	c.removed = true
	w.stats.Despawned++
	w.removed = append(w.removed, observerproto.ContainerRemovedMsg{
		Type:            observerproto.TypeContainerRemoved,
		ProtocolVersion: observerproto.Version,
		Tick:            w.tick.Load(),
		ContainerID:     c.id,
		PrefabID:        c.prefabID,
	})
}

// Refresh runs the engine's bulk pass and persists any table it added.
func (w *World) Refresh() (engine.RefreshResult, error) {
	if w.engine == nil {
		return engine.RefreshResult{}, ErrNoEngine
	}
	res := w.engine.RefreshAll(w)
	w.stats.Refreshes++
	w.flushTables()
	return res, nil
}

// scheduleFlush marks tables the engine added while populating. They are
// persisted at the end of the current tick, never from inside a spawn.
func (w *World) scheduleFlush() {
	w.flushPending = true
}

func (w *World) flushTables() {
	w.flushPending = false
	if err := w.engine.Flush(); err != nil {
		w.log.Warn("flush loot tables", zap.Error(err))
	}
}

func (w *World) scheduleRefresh() {
	if w.refreshPending {
		return
	}
	w.refreshPending = true
	w.After(w.cfg.RefreshDelayTicks, func() {
		w.refreshPending = false
		if _, err := w.Refresh(); err != nil {
			w.log.Warn("scheduled refresh", zap.Error(err))
		}
	})
}
