package schedule

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/groundlink/model"
)

func candidatePools(perPool int, pools ...string) map[string][]*model.Activity {
	out := make(map[string][]*model.Activity)
	for _, pool := range pools {
		for i := 0; i < perPool; i++ {
			start := testEpoch.Add(time.Duration(i) * time.Hour)
			act := plannedActivity(fmt.Sprintf("%s-act-%d", pool, i), pool, start, start.Add(10*time.Minute))
			out[pool] = append(out[pool], act)
		}
	}
	return out
}

func TestAssignRoundRobinBalancesWithinOne(t *testing.T) {
	candidates := candidatePools(7, "FU-A1", "FU-B2")
	units := []string{"FU-C3", "FU-A1", "FU-B2"}

	assigned := AssignRoundRobin(candidates, units)
	if len(assigned) != 14 {
		t.Fatalf("assigned %d activities, want 14", len(assigned))
	}

	load := make(map[string]int)
	for _, act := range assigned {
		load[act.FUID]++
	}
	min, max := len(assigned), 0
	for _, id := range units {
		if load[id] < min {
			min = load[id]
		}
		if load[id] > max {
			max = load[id]
		}
	}
	if max-min > 1 {
		t.Errorf("load spread = %d (%v), want at most 1", max-min, load)
	}
}

func TestAssignRoundRobinIsDeterministic(t *testing.T) {
	candidates := candidatePools(5, "FU-B2", "FU-A1")
	units := []string{"FU-B2", "FU-A1"}

	first := AssignRoundRobin(candidates, units)
	second := AssignRoundRobin(candidates, units)

	if !reflect.DeepEqual(first, second) {
		t.Error("same inputs produced different assignments")
	}

	// Unit order must not matter either.
	third := AssignRoundRobin(candidates, []string{"FU-A1", "FU-B2"})
	if !reflect.DeepEqual(first, third) {
		t.Error("unit ID order changed the assignment")
	}
}

func TestAssignRoundRobinNoUnits(t *testing.T) {
	candidates := candidatePools(3, "FU-A1")
	if got := AssignRoundRobin(candidates, nil); got != nil {
		t.Errorf("assignment with zero units = %v, want nil", got)
	}
}

func TestAssignRoundRobinReassignsOwningUnit(t *testing.T) {
	candidates := candidatePools(4, "FU-A1")
	assigned := AssignRoundRobin(candidates, []string{"FU-A1", "FU-B2"})

	seen := make(map[string]bool)
	for _, act := range assigned {
		seen[act.FUID] = true
	}
	if !seen["FU-B2"] {
		t.Error("candidates from one unit's geometry were never dealt to the other unit")
	}

	// Inputs must not be mutated.
	for _, act := range candidates["FU-A1"] {
		if act.FUID != "FU-A1" {
			t.Fatal("AssignRoundRobin mutated its candidate input")
		}
	}
}
