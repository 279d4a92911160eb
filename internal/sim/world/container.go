package world

import (
	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/loot/populate"
	"crateloot.ai/internal/observerproto"
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// Container is a spawned lootable container. It is owned by the world loop.
type Container struct {
	id       string
	prefabID string
	Pos      Vec3

	inv        *Inventory
	engineLoot bool
	// pending rebroadcast, flushed once at the end of the tick
	dirty   bool
	removed bool

	w *World
}

func (c *Container) ID() string               { return c.id }
func (c *Container) PrefabID() string         { return c.prefabID }
func (c *Container) WorldPos() [3]float64     { return c.Pos.Array() }
func (c *Container) Position() (x, z float64) { return c.Pos.X, c.Pos.Z }
func (c *Container) EngineLoot() bool         { return c.engineLoot }
func (c *Container) Inventory() *Inventory    { return c.inv }

// ResetInventory clears the contents and sets the slot capacity.
func (c *Container) ResetInventory(capacity int) populate.Inventory { return c.reset(capacity) }

func (c *Container) reset(capacity int) *Inventory {
	if c.inv == nil {
		c.inv = &Inventory{}
	}
	c.inv.capacity = capacity
	c.inv.slots = c.inv.slots[:0]
	c.inv.dirty = false
	return c.inv
}

// Rebroadcast queues the container's contents for observers.
func (c *Container) Rebroadcast() {
	if c.dirty || c.removed {
		return
	}
	c.dirty = true
	if c.w != nil {
		c.w.dirty = append(c.w.dirty, c)
	}
}

func (c *Container) message(tick uint64) observerproto.ContainerMsg {
	msg := observerproto.ContainerMsg{
		Type:            observerproto.TypeContainer,
		ProtocolVersion: observerproto.Version,
		Tick:            tick,
		ContainerID:     c.id,
		PrefabID:        c.prefabID,
		Pos:             c.Pos.Array(),
		EngineLoot:      c.engineLoot,
		Items:           []observerproto.ItemStack{},
	}
	if c.inv != nil {
		msg.Capacity = c.inv.capacity
		for _, s := range c.inv.slots {
			msg.Items = append(msg.Items, observerproto.ItemStack{Item: s.ItemID, Amount: s.Amount, Target: s.Target})
		}
	}
	return msg
}

// Inventory is slot storage: one stack per slot, up to capacity slots.
type Inventory struct {
	capacity int
	slots    []loadout.Instance
	dirty    bool
}

func (inv *Inventory) Insert(inst loadout.Instance) bool {
	if inst.ItemID == "" || inst.Amount <= 0 || len(inv.slots) >= inv.capacity {
		return false
	}
	inv.slots = append(inv.slots, inst)
	return true
}

func (inv *Inventory) Len() int      { return len(inv.slots) }
func (inv *Inventory) Capacity() int { return inv.capacity }
func (inv *Inventory) Dirty() bool   { return inv.dirty }
func (inv *Inventory) MarkDirty()    { inv.dirty = true }

// SetCapacity never drops occupied slots.
func (inv *Inventory) SetCapacity(n int) {
	if n < len(inv.slots) {
		n = len(inv.slots)
	}
	inv.capacity = n
}

func (inv *Inventory) Items() []loadout.Instance {
	return append([]loadout.Instance(nil), inv.slots...)
}

// Count sums the amounts of itemID across slots.
func (inv *Inventory) Count(itemID string) int {
	n := 0
	for _, s := range inv.slots {
		if s.ItemID == itemID {
			n += s.Amount
		}
	}
	return n
}
