package tables

import "crateloot.ai/internal/sim/catalogs"

// Entry is one leaf of a flattened loot specification.
type Entry struct {
	Item   string
	Amount Amount
}

// Flatten walks an authored loot specification depth-first and returns one
// entry per item id in first-seen order. The first range seen for an item
// wins and later duplicates are dropped; that is how shipped data has always
// been read, though it may be an accident of traversal order.
func Flatten(spec catalogs.LootSpec) []Entry {
	var out []Entry
	seen := map[string]bool{}
	var walk func(n catalogs.LootSpec)
	walk = func(n catalogs.LootSpec) {
		if n.Item != "" {
			if seen[n.Item] {
				return
			}
			seen[n.Item] = true
			lo, hi := n.Min, n.Max
			if lo == 0 && hi == 0 {
				lo, hi = 1, 1
			}
			out = append(out, Entry{Item: n.Item, Amount: Amount{Min: lo, Max: hi, Blueprint: n.Blueprint}})
			return
		}
		for _, child := range n.Entries {
			walk(child)
		}
	}
	walk(spec)
	return out
}
