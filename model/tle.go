package model

import "sort"

// TLE is a two-line element set for one satellite, keyed in the catalog by
// display name.
type TLE struct {
	Name    string `json:"name"`
	NoradID string `json:"norad_id"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2"`
}

// TLESet is the in-memory satellite catalog, keyed by satellite name.
type TLESet map[string]TLE

// Names returns the catalog's satellite names in sorted order. Planning
// iterates this so candidate emission order is deterministic.
func (s TLESet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
