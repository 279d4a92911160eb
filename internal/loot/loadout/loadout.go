// Package loadout holds the ephemeral result of one population call.
package loadout

import (
	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
)

// Instance is one item stack chosen for a container. A blueprint carrier has
// a non-empty Target naming the item it unlocks.
type Instance struct {
	ItemID string `json:"item"`
	Amount int    `json:"amount"`
	Target string `json:"target,omitempty"`
}

func (i Instance) IsBlueprint() bool { return i.Target != "" }

// Subject is the item identity the instance stands for: the target of a
// blueprint, the item itself otherwise.
func (i Instance) Subject() string {
	if i.Target != "" {
		return i.Target
	}
	return i.ItemID
}

// Loadout is the ordered list of chosen instances plus the dedup sets that
// keep one container from holding the same item twice. A blueprint for X and
// a raw X are mutually exclusive.
type Loadout struct {
	ID    string
	Items []Instance
	Scrap int

	items   mapset.Set[string]
	targets mapset.Set[string]
	bps     int
}

func New() *Loadout {
	return &Loadout{
		ID:      uuid.NewString(),
		items:   mapset.New[string](),
		targets: mapset.New[string](),
	}
}

// Conflicts reports whether inst duplicates something already chosen.
func (l *Loadout) Conflicts(inst Instance) bool {
	s := inst.Subject()
	return l.items.Has(s) || l.targets.Has(s)
}

// Add records inst. Callers check Conflicts first.
func (l *Loadout) Add(inst Instance) {
	l.Items = append(l.Items, inst)
	if inst.IsBlueprint() {
		l.targets.Put(inst.Target)
		l.bps++
		return
	}
	l.items.Put(inst.ItemID)
}

// Drop removes instances matching fn from Items. The dedup sets keep them,
// so a dropped item still counts as chosen for the rest of the call.
func (l *Loadout) Drop(fn func(Instance) bool) int {
	kept := l.Items[:0]
	n := 0
	for _, inst := range l.Items {
		if fn(inst) {
			n++
			continue
		}
		kept = append(kept, inst)
	}
	l.Items = kept
	return n
}

func (l *Loadout) Len() int        { return len(l.Items) }
func (l *Loadout) Blueprints() int { return l.bps }

// Record is the durable summary of one population call, handed to sinks.
type Record struct {
	LoadoutID   string     `json:"loadout_id"`
	Tick        uint64     `json:"tick"`
	ContainerID string     `json:"container_id"`
	PrefabID    string     `json:"prefab_id"`
	Pos         [3]float64 `json:"pos"`
	Items       []Instance `json:"items"`
	Blueprints  int        `json:"blueprints"`
	Scrap       int        `json:"scrap,omitempty"`
}

// Record summarizes l for the container that received it.
func (l *Loadout) Record(tick uint64, containerID, prefabID string, pos [3]float64) Record {
	bps := 0
	for _, inst := range l.Items {
		if inst.IsBlueprint() {
			bps++
		}
	}
	return Record{
		LoadoutID:   l.ID,
		Tick:        tick,
		ContainerID: containerID,
		PrefabID:    prefabID,
		Pos:         pos,
		Items:       append([]Instance(nil), l.Items...),
		Blueprints:  bps,
		Scrap:       l.Scrap,
	}
}
