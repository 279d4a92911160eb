// Package stacked removes container spawns that landed on top of each other.
package stacked

import (
	"math"
	"sort"
)

type Spawn interface {
	// Position returns the horizontal coordinates.
	Position() (x, z float64)
}

// Resolve sorts spawns by (x, z) and, for each survivor, removes the
// immediately following spawns closer than threshold on the horizontal
// plane. Only neighbours in sort order are compared, so duplicates split by
// a large gap on the first axis can be missed. The scan stops after len²
// comparisons regardless of input. It returns the number removed.
func Resolve[S Spawn](spawns []S, threshold float64, remove func(S)) int {
	if len(spawns) < 2 || threshold <= 0 {
		return 0
	}
	list := append([]S(nil), spawns...)
	sort.SliceStable(list, func(i, j int) bool {
		ax, az := list[i].Position()
		bx, bz := list[j].Position()
		if ax != bx {
			return ax < bx
		}
		return az < bz
	})

	limit := len(list) * len(list)
	steps, removed := 0, 0
	for i := 0; i < len(list); i++ {
		ax, az := list[i].Position()
		for j := i + 1; j < len(list); {
			steps++
			if steps > limit {
				return removed
			}
			bx, bz := list[j].Position()
			if math.Hypot(bx-ax, bz-az) >= threshold {
				break
			}
			if remove != nil {
				remove(list[j])
			}
			list = append(list[:j], list[j+1:]...)
			removed++
		}
	}
	return removed
}
