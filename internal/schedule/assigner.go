package schedule

import (
	"sort"

	"github.com/signalsfoundry/groundlink/model"
)

// AssignRoundRobin flattens the candidate pools and deals the activities out
// across the given units one at a time. Candidate pools are walked in sorted
// key order and units in sorted ID order, so the same inputs always produce
// the same assignment. The per-unit load differs by at most one.
//
// The returned activities carry their assigned unit in FUID, which may differ
// from the unit whose geometry produced the candidate. Returns nil when there
// are no units to assign to.
func AssignRoundRobin(candidates map[string][]*model.Activity, fuIDs []string) []*model.Activity {
	if len(fuIDs) == 0 {
		return nil
	}

	units := make([]string, len(fuIDs))
	copy(units, fuIDs)
	sort.Strings(units)

	pools := make([]string, 0, len(candidates))
	for key := range candidates {
		pools = append(pools, key)
	}
	sort.Strings(pools)

	var assigned []*model.Activity
	next := 0
	for _, key := range pools {
		for _, act := range candidates[key] {
			if act == nil {
				continue
			}
			cp := act.Clone()
			cp.FUID = units[next%len(units)]
			next++
			assigned = append(assigned, cp)
		}
	}
	return assigned
}
