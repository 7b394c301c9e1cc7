// Package models defines data structures for the scraper.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnitRecord is the structured form of one unit datasheet.
//
// Every field is optional. A section the parser could not find stays at its
// zero value and is omitted from JSON, while a section that was found but had
// no body keeps a non-nil empty slice and is written as [].
type UnitRecord struct {
	Movement          string          `json:"Movement,omitzero"`
	Toughness         string          `json:"Toughness,omitzero"`
	Save              string          `json:"Save,omitzero"`
	Wounds            string          `json:"Wounds,omitzero"`
	Leadership        string          `json:"Leadership,omitzero"`
	OC                string          `json:"OC,omitzero"`
	InvulnerableSave  string          `json:"Invulnerable Save,omitzero"`
	RangedWeapons     []WeaponProfile `json:"Ranged Weapons,omitzero"`
	MeleeWeapons      []WeaponProfile `json:"Melee Weapons,omitzero"`
	WargearOptions    []string        `json:"Wargear Options,omitzero"`
	Abilities         []string        `json:"Abilities,omitzero"`
	UnitComposition   []string        `json:"Unit Composition,omitzero"`
	Keywords          []string        `json:"Keywords,omitzero"`
	FactionKeywords   []string        `json:"Faction Keywords,omitzero"`
	Points            []PointsEntry   `json:"Points,omitzero"`
	Enhancements      []string        `json:"Enhancements,omitzero"`
	Stratagems        []Stratagem     `json:"Stratagems,omitzero"`
	LedBy             []string        `json:"Led By,omitzero"`
	DetachmentAbility string          `json:"Detachment Ability,omitzero"`

	// Review lists matches taken from outside their section, e.g.
	// "points:unscoped". Consumers should not trust those fields blindly.
	Review []string `json:"Review,omitzero"`
}

// HasStats reports whether the stat block was extracted.
func (r *UnitRecord) HasStats() bool {
	return r != nil && r.Movement != "" && r.Toughness != "" && r.Save != "" &&
		r.Wounds != "" && r.Leadership != "" && r.OC != ""
}

// PointsEntry is one row of a unit's points table.
type PointsEntry struct {
	ModelCount int `json:"Models"`
	Cost       int `json:"Cost"`
}

// Stratagem is a named rules effect with its command point cost.
type Stratagem struct {
	Name             string `json:"Name"`
	CommandPointCost string `json:"CP"`
	Source           string `json:"Source"`
}

// WeaponStat is one column of a weapon profile.
type WeaponStat struct {
	Column string
	Value  string
}

// WeaponProfile is one row of a weapon table. Stats follow the column order of
// the header row the profile was parsed against.
type WeaponProfile struct {
	Name  string
	Stats []WeaponStat
}

// Value returns the value recorded for column.
func (w WeaponProfile) Value(column string) (string, bool) {
	for _, s := range w.Stats {
		if s.Column == column {
			return s.Value, true
		}
	}
	return "", false
}

// MarshalJSON writes the profile as a flat object, Name first, then the
// columns in header order.
func (w WeaponProfile) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, "Name", w.Name); err != nil {
		return nil, err
	}
	for _, s := range w.Stats {
		buf.WriteByte(',')
		if err := writeMember(&buf, s.Column, s.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat profile object and keeps the member order.
func (w *WeaponProfile) UnmarshalJSON(data []byte) error {
	*w = WeaponProfile{}
	return decodeOrderedObject(data, func(key string, dec *json.Decoder) error {
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("weapon column %q: %w", key, err)
		}
		if key == "Name" {
			w.Name = value
			return nil
		}
		w.Stats = append(w.Stats, WeaponStat{Column: key, Value: value})
		return nil
	})
}

// Partition is the slice of the aggregate belonging to one faction.
type Partition struct {
	Faction string
	Units   map[string]*UnitRecord
}
