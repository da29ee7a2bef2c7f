package models

import "strings"

// Flavor is one product variant a report can vouch for.
type Flavor string

const (
	FlavorCitron            Flavor = "citron"
	FlavorPeche             Flavor = "peche"
	FlavorFruitsRouges      Flavor = "fruits_rouges"
	FlavorDragon            Flavor = "dragon"
	FlavorMenthe            Flavor = "menthe"
	FlavorGingembreHibiscus Flavor = "gingembre_hibiscus"
)

// Flavors lists every known flavor code in display order.
var Flavors = []Flavor{
	FlavorCitron,
	FlavorPeche,
	FlavorFruitsRouges,
	FlavorDragon,
	FlavorMenthe,
	FlavorGingembreHibiscus,
}

func (f Flavor) Valid() bool {
	for _, known := range Flavors {
		if f == known {
			return true
		}
	}
	return false
}

// StoreType is a category tag on a store.
type StoreType string

const (
	StoreTypeSupermarket StoreType = "supermarket"
	StoreTypeConvenience StoreType = "convenience"
	StoreTypeOrganic     StoreType = "organic"
	StoreTypeGrocery     StoreType = "grocery"
)

var StoreTypes = []StoreType{
	StoreTypeSupermarket,
	StoreTypeConvenience,
	StoreTypeOrganic,
	StoreTypeGrocery,
}

func (t StoreType) Valid() bool {
	for _, known := range StoreTypes {
		if t == known {
			return true
		}
	}
	return false
}

// VoteType is a voter's opinion on a report.
type VoteType string

const (
	VoteConfirm VoteType = "confirm"
	VoteDeny    VoteType = "deny"
)

func (v VoteType) Valid() bool {
	return v == VoteConfirm || v == VoteDeny
}

// UniqueFlavors drops duplicates, keeping first-seen order.
func UniqueFlavors(in []Flavor) []Flavor {
	out := make([]Flavor, 0, len(in))
	seen := make(map[Flavor]bool, len(in))
	for _, f := range in {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// UniqueStoreTypes lowercases, trims and deduplicates tags, keeping order.
func UniqueStoreTypes(in []StoreType) []StoreType {
	out := make([]StoreType, 0, len(in))
	seen := make(map[StoreType]bool, len(in))
	for _, t := range in {
		t = StoreType(strings.ToLower(strings.TrimSpace(string(t))))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func flavorNames() string {
	names := make([]string, len(Flavors))
	for i, f := range Flavors {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func storeTypeNames() string {
	names := make([]string, len(StoreTypes))
	for i, t := range StoreTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
