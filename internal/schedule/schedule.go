// Package schedule holds the activity plan: candidate generation, round-robin
// assignment across the fleet, the live in-memory schedule, and its durable
// store.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/groundlink/model"
)

// ErrUnknownActivity indicates a lookup or transition against an activity ID
// that is not in the schedule.
var ErrUnknownActivity = errors.New("unknown activity")

// ErrUnitHasActive indicates an activation attempt for a field unit that
// already has an ACTIVE activity. Each unit executes at most one at a time.
var ErrUnitHasActive = errors.New("field unit already has an active activity")

// Schedule is the live plan, indexed per field unit and by activity ID. All
// mutation and iteration happens under one lock; readers get copies.
type Schedule struct {
	mu   sync.RWMutex
	byFU map[string][]*model.Activity
	byID map[string]*model.Activity
}

// New returns an empty schedule.
func New() *Schedule {
	return &Schedule{
		byFU: make(map[string][]*model.Activity),
		byID: make(map[string]*model.Activity),
	}
}

// Replace swaps in a freshly generated plan, discarding PLANNED and COMPLETED
// entries from the previous one. ACTIVE activities survive the swap so an
// in-progress track is never orphaned by regeneration.
func (s *Schedule) Replace(activities []*model.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var carried []*model.Activity
	for _, act := range s.byID {
		if act.State == model.ActivityActive {
			carried = append(carried, act)
		}
	}

	s.byFU = make(map[string][]*model.Activity)
	s.byID = make(map[string]*model.Activity)
	for _, act := range carried {
		s.insertLocked(act)
	}
	for _, act := range activities {
		if act == nil {
			continue
		}
		if _, dup := s.byID[act.ID]; dup {
			continue
		}
		s.insertLocked(act.Clone())
	}
}

// Insert adds one activity, keeping the owning unit's list ordered by start
// time. Used for operator-inserted custom tracks.
func (s *Schedule) Insert(act *model.Activity) error {
	if err := act.Validate(); err != nil {
		return err
	}
	if act.State != model.ActivityPlanned {
		return fmt.Errorf("%w: inserted activity must be PLANNED, got %s", model.ErrInvalidActivity, act.State)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[act.ID]; dup {
		return fmt.Errorf("%w: duplicate activity id %s", model.ErrInvalidActivity, act.ID)
	}
	s.insertLocked(act.Clone())
	return nil
}

func (s *Schedule) insertLocked(act *model.Activity) {
	s.byID[act.ID] = act
	list := append(s.byFU[act.FUID], act)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
	s.byFU[act.FUID] = list
}

// Get returns a copy of one activity.
func (s *Schedule) Get(activityID string) (*model.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	act, ok := s.byID[activityID]
	if !ok {
		return nil, false
	}
	return act.Clone(), true
}

// ForFU returns copies of the unit's activities ordered by start time.
func (s *Schedule) ForFU(fuID string) []*model.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byFU[fuID]
	out := make([]*model.Activity, 0, len(list))
	for _, act := range list {
		out = append(out, act.Clone())
	}
	return out
}

// Snapshot returns a copy of the whole plan keyed by field unit.
func (s *Schedule) Snapshot() map[string][]*model.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*model.Activity, len(s.byFU))
	for fuID, list := range s.byFU {
		cp := make([]*model.Activity, 0, len(list))
		for _, act := range list {
			cp = append(cp, act.Clone())
		}
		out[fuID] = cp
	}
	return out
}

// NextEligible returns a copy of the unit's first PLANNED activity whose
// window contains now. A PLANNED activity whose window has already closed is
// never eligible; it simply stays PLANNED.
func (s *Schedule) NextEligible(fuID string, now time.Time) (*model.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, act := range s.byFU[fuID] {
		if act.State != model.ActivityPlanned {
			continue
		}
		if now.Before(act.Start) || now.After(act.End) {
			continue
		}
		return act.Clone(), true
	}
	return nil, false
}

// MarkActive transitions the activity PLANNED -> ACTIVE. It refuses the
// transition while another of the unit's activities is still ACTIVE, so the
// schedule itself enforces one activation per unit regardless of what the
// unit's heartbeats claim.
func (s *Schedule) MarkActive(activityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	act, ok := s.byID[activityID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActivity, activityID)
	}
	for _, other := range s.byFU[act.FUID] {
		if other.ID != act.ID && other.State == model.ActivityActive {
			return fmt.Errorf("%w: %s is running %s", ErrUnitHasActive, act.FUID, other.ID)
		}
	}
	return act.TransitionTo(model.ActivityActive)
}

// HasActive reports whether the unit has an ACTIVE activity.
func (s *Schedule) HasActive(fuID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, act := range s.byFU[fuID] {
		if act.State == model.ActivityActive {
			return true
		}
	}
	return false
}

// ActiveActivities returns copies of every ACTIVE activity, ordered by ID.
func (s *Schedule) ActiveActivities() []*model.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Activity
	for _, act := range s.byID {
		if act.State == model.ActivityActive {
			out = append(out, act.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CompleteElapsed transitions every ACTIVE activity whose end time has passed
// to COMPLETED and returns copies of the activities it completed.
func (s *Schedule) CompleteElapsed(now time.Time) []*model.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done []*model.Activity
	for _, act := range s.byID {
		if act.State != model.ActivityActive || !now.After(act.End) {
			continue
		}
		if err := act.TransitionTo(model.ActivityCompleted); err != nil {
			continue
		}
		done = append(done, act.Clone())
	}
	sort.Slice(done, func(i, j int) bool { return done[i].ID < done[j].ID })
	return done
}

// Counts returns the number of activities per lifecycle state.
func (s *Schedule) Counts() (planned, active, completed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, act := range s.byID {
		switch act.State {
		case model.ActivityPlanned:
			planned++
		case model.ActivityActive:
			active++
		case model.ActivityCompleted:
			completed++
		}
	}
	return planned, active, completed
}
