// Package tle maintains the satellite catalog: fetching two-line element
// sets from Celestrak, parsing the 3-line text format, and caching the
// result on disk between refreshes.
package tle

import (
	"errors"
	"strings"

	"github.com/signalsfoundry/groundlink/model"
)

// ErrEmptyCatalog indicates the parsed input contained no usable element
// sets.
var ErrEmptyCatalog = errors.New("no TLE entries parsed")

// Parse reads the 3-line catalog format: a name line followed by the two
// element lines. Blocks that do not form a valid triple are skipped rather
// than failing the whole catalog.
func Parse(raw string) (model.TLESet, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	set := make(model.TLESet)
	for i := 0; i < len(lines); {
		name := strings.TrimSpace(lines[i])
		if name == "" || strings.HasPrefix(name, "1 ") || strings.HasPrefix(name, "2 ") {
			i++
			continue
		}
		if i+2 >= len(lines) {
			break
		}
		line1 := strings.TrimSpace(lines[i+1])
		line2 := strings.TrimSpace(lines[i+2])
		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			i++
			continue
		}
		set[name] = model.TLE{
			Name:    name,
			NoradID: noradID(line1),
			Line1:   line1,
			Line2:   line2,
		}
		i += 3
	}

	if len(set) == 0 {
		return nil, ErrEmptyCatalog
	}
	return set, nil
}

// noradID extracts the catalog number from line 1, dropping the trailing
// classification letter ("25544U" -> "25544").
func noradID(line1 string) string {
	fields := strings.Fields(line1)
	if len(fields) < 2 {
		return ""
	}
	id := fields[1]
	return strings.TrimRightFunc(id, func(r rune) bool { return r < '0' || r > '9' })
}
