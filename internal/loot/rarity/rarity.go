// Package rarity is the closed five-tier rarity model and its selection weights.
package rarity

import (
	"fmt"
	"math"
	"strings"
)

// Tier is a rarity bucket, from Common (0) to VeryRare (4).
type Tier uint8

const (
	Common Tier = iota
	Uncommon
	Rare
	Epic
	VeryRare
)

// Count is the number of tiers. Per-tier arrays are sized with it.
const Count = 5

// All lists every tier in ascending order.
var All = [Count]Tier{Common, Uncommon, Rare, Epic, VeryRare}

func (t Tier) Index() int {
	switch t {
	case Common:
		return 0
	case Uncommon:
		return 1
	case Rare:
		return 2
	case Epic:
		return 3
	case VeryRare:
		return 4
	}
	panic(fmt.Sprintf("rarity: invalid tier %d", uint8(t)))
}

func (t Tier) String() string {
	switch t {
	case Common:
		return "common"
	case Uncommon:
		return "uncommon"
	case Rare:
		return "rare"
	case Epic:
		return "epic"
	case VeryRare:
		return "very_rare"
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// Valid reports whether t is one of the five declared tiers.
func (t Tier) Valid() bool { return t <= VeryRare }

// FromIndex is total over [0, Count).
func FromIndex(i int) (Tier, bool) {
	switch i {
	case 0:
		return Common, true
	case 1:
		return Uncommon, true
	case 2:
		return Rare, true
	case 3:
		return Epic, true
	case 4:
		return VeryRare, true
	}
	return Common, false
}

// Parse accepts tier names case-insensitively. An empty name is Common.
func Parse(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "common":
		return Common, nil
	case "uncommon":
		return Uncommon, nil
	case "rare":
		return Rare, nil
	case "epic":
		return Epic, nil
	case "very_rare", "veryrare", "very-rare":
		return VeryRare, nil
	}
	return Common, fmt.Errorf("unknown rarity %q", name)
}

// UnitWeight is the selection weight of a single item in tier t:
// floor(baseRarity^(4-t) * 1000).
func UnitWeight(t Tier, baseRarity float64) int {
	exp := float64(VeryRare.Index() - t.Index())
	return int(math.Floor(math.Pow(baseRarity, exp) * 1000))
}

// BucketWeight is the aggregate weight of a bucket holding size items.
// An empty bucket weighs zero and can never be selected.
func BucketWeight(t Tier, baseRarity float64, size int) int {
	if size <= 0 {
		return 0
	}
	return UnitWeight(t, baseRarity) * size
}
