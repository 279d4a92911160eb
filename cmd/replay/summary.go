package main

import (
	"fmt"
	"io"
	"sort"

	"crateloot.ai/internal/loot/loadout"
	"crateloot.ai/internal/sim/catalogs"
)

type filter struct {
	From   uint64
	To     uint64
	Prefab string
}

func (f filter) match(rec loadout.Record) bool {
	if rec.Tick < f.From {
		return false
	}
	if f.To != 0 && rec.Tick > f.To {
		return false
	}
	return f.Prefab == "" || rec.PrefabID == f.Prefab
}

type prefabStats struct {
	Loadouts   int
	Items      int
	Blueprints int
	Scrap      int
	// Counts is keyed by Instance.Subject so blueprints count toward their target.
	Counts     map[string]int
}

type summary struct {
	cats    *catalogs.Catalogs
	filter  filter
	Records int
	Prefabs map[string]*prefabStats
	// Unknown lists item ids logged but absent from the current catalog.
	Unknown map[string]int
}

func newSummary(cats *catalogs.Catalogs, f filter) *summary {
	return &summary{cats: cats, filter: f, Prefabs: map[string]*prefabStats{}, Unknown: map[string]int{}}
}

func (s *summary) add(rec loadout.Record) {
	if !s.filter.match(rec) {
		return
	}
	s.Records++
	ps := s.Prefabs[rec.PrefabID]
	if ps == nil {
		ps = &prefabStats{Counts: map[string]int{}}
		s.Prefabs[rec.PrefabID] = ps
	}
	ps.Loadouts++
	ps.Blueprints += rec.Blueprints
	ps.Scrap += rec.Scrap
	for _, inst := range rec.Items {
		ps.Items++
		ps.Counts[inst.Subject()]++
		if _, ok := s.cats.ResolveItem(inst.ItemID); !ok {
			s.Unknown[inst.ItemID]++
		}
		if inst.IsBlueprint() {
			if _, ok := s.cats.ResolveItem(inst.Target); !ok {
				s.Unknown[inst.Target]++
			}
		}
	}
}

func (s *summary) print(w io.Writer, top int) {
	fmt.Fprintf(w, "loadouts=%d prefabs=%d\n", s.Records, len(s.Prefabs))
	ids := make([]string, 0, len(s.Prefabs))
	for id := range s.Prefabs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ps := s.Prefabs[id]
		fmt.Fprintf(w, "%s loadouts=%d avg_items=%.2f blueprints=%d avg_scrap=%.2f\n",
			id, ps.Loadouts, ratio(ps.Items, ps.Loadouts), ps.Blueprints, ratio(ps.Scrap, ps.Loadouts))
		for _, ic := range ps.top(top) {
			tier := "?"
			if def, ok := s.cats.ResolveItem(ic.id); ok {
				tier = def.Rarity.String()
			}
			fmt.Fprintf(w, "  %-24s %-10s %6d %5.1f%%\n", ic.id, tier, ic.n, 100*ratio(ic.n, ps.Items))
		}
	}
	if len(s.Unknown) > 0 {
		fmt.Fprintf(w, "unknown items: %v\n", s.Unknown)
	}
}

type itemCount struct {
	id string
	n  int
}

// top orders by count descending, then id.
func (ps *prefabStats) top(n int) []itemCount {
	out := make([]itemCount, 0, len(ps.Counts))
	for id, c := range ps.Counts {
		out = append(out, itemCount{id, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].id < out[j].id
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
