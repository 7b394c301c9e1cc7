package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Index maps each faction to the ordered unit ids found on its listing page.
// Faction order is the order factions were added and survives JSON round trips.
type Index struct {
	factions []string
	units    map[string][]string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{units: make(map[string][]string)}
}

// Set records the units of faction, replacing any previous list but keeping
// the faction's position.
func (i *Index) Set(faction string, units []string) {
	if i.units == nil {
		i.units = make(map[string][]string)
	}
	if _, ok := i.units[faction]; !ok {
		i.factions = append(i.factions, faction)
	}
	i.units[faction] = append([]string(nil), units...)
}

// Factions returns the factions in index order.
func (i *Index) Factions() []string {
	return append([]string(nil), i.factions...)
}

// Units returns the unit ids of faction in listing order.
func (i *Index) Units(faction string) []string {
	return append([]string(nil), i.units[faction]...)
}

// Has reports whether faction is present.
func (i *Index) Has(faction string) bool {
	_, ok := i.units[faction]
	return ok
}

// Len is the total number of unit ids across factions.
func (i *Index) Len() int {
	total := 0
	for _, units := range i.units {
		total += len(units)
	}
	return total
}

// Merge returns a new index holding i's factions overlaid by other's.
func (i *Index) Merge(other *Index) *Index {
	out := NewIndex()
	for _, f := range i.factions {
		out.Set(f, i.units[f])
	}
	if other != nil {
		for _, f := range other.factions {
			out.Set(f, other.units[f])
		}
	}
	return out
}

// Tasks expands the index into pending fetch tasks, faction by faction, in
// listing order.
func (i *Index) Tasks(baseURL string) []FetchTask {
	tasks := make([]FetchTask, 0, i.Len())
	for _, f := range i.factions {
		for _, u := range i.units[f] {
			tasks = append(tasks, TaskRef{Faction: f, Unit: u}.Task(baseURL))
		}
	}
	return tasks
}

// MarshalJSON writes factions in index order.
func (i *Index) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for n, f := range i.factions {
		if n > 0 {
			buf.WriteByte(',')
		}
		units := i.units[f]
		if units == nil {
			units = []string{}
		}
		if err := writeMember(&buf, f, units); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads factions in document order.
func (i *Index) UnmarshalJSON(data []byte) error {
	*i = Index{units: make(map[string][]string)}
	return decodeOrderedObject(data, func(key string, dec *json.Decoder) error {
		var units []string
		if err := dec.Decode(&units); err != nil {
			return fmt.Errorf("index faction %q: %w", key, err)
		}
		i.Set(key, units)
		return nil
	})
}
