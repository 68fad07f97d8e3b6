package model

import (
	"errors"
	"fmt"
	"time"
)

// ActivityState is the lifecycle state of a tracking activity. Transitions
// are monotonic and one-directional: PLANNED -> ACTIVE -> COMPLETED.
type ActivityState string

const (
	ActivityPlanned   ActivityState = "PLANNED"
	ActivityActive    ActivityState = "ACTIVE"
	ActivityCompleted ActivityState = "COMPLETED"
)

// ActivityKind distinguishes planner-generated tracks from operator-inserted
// ones. Both run through the same execution state machine.
type ActivityKind string

const (
	KindTrack       ActivityKind = "TRACK"
	KindCustomTrack ActivityKind = "CUSTOM_TRACK"
)

var (
	// ErrInvalidActivity indicates an activity failed structural validation.
	ErrInvalidActivity = errors.New("invalid activity")
	// ErrInvalidTransition indicates an attempt to move an activity
	// backwards or skip a lifecycle state.
	ErrInvalidTransition = errors.New("invalid activity state transition")
)

// Activity is one scheduled tracking window for a field unit. The ID is
// assigned at creation and immutable; FUID is the owning unit after
// assignment (which may differ from the unit the geometry was computed for).
type Activity struct {
	ID              string        `json:"activity_id"`
	FUID            string        `json:"fu_id"`
	Satellite       string        `json:"satellite"`
	NoradID         string        `json:"norad_id"`
	Kind            ActivityKind  `json:"type"`
	Start           time.Time     `json:"start_time"`
	End             time.Time     `json:"end_time"`
	MaxElevationDeg float64       `json:"max_elevation_deg"`
	State           ActivityState `json:"state"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Validate checks the structural invariants that hold for every activity
// regardless of lifecycle state.
func (a *Activity) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil", ErrInvalidActivity)
	}
	if a.ID == "" {
		return fmt.Errorf("%w: missing activity id", ErrInvalidActivity)
	}
	if a.FUID == "" {
		return fmt.Errorf("%w: missing fu id", ErrInvalidActivity)
	}
	if a.Satellite == "" {
		return fmt.Errorf("%w: missing satellite", ErrInvalidActivity)
	}
	if a.Kind != KindTrack && a.Kind != KindCustomTrack {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidActivity, a.Kind)
	}
	if !a.End.After(a.Start) {
		return fmt.Errorf("%w: end %s not after start %s", ErrInvalidActivity,
			a.End.Format(time.RFC3339), a.Start.Format(time.RFC3339))
	}
	return nil
}

// TransitionTo advances the activity's state, rejecting any move that is not
// the immediate next lifecycle step.
func (a *Activity) TransitionTo(next ActivityState) error {
	if !a.State.canTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (activity %s)", ErrInvalidTransition, a.State, next, a.ID)
	}
	a.State = next
	return nil
}

func (s ActivityState) canTransitionTo(next ActivityState) bool {
	switch s {
	case ActivityPlanned:
		return next == ActivityActive
	case ActivityActive:
		return next == ActivityCompleted
	}
	return false
}

// Clone returns a copy of the activity.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
