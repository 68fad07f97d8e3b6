package model

import (
	"fmt"
	"time"
)

// FUState describes the operational state of a field unit as seen by the
// orchestrator. OFFLINE is not terminal: the next heartbeat restores the
// unit to whatever state it reports.
type FUState string

const (
	FUStateIdle    FUState = "IDLE"
	FUStateBusy    FUState = "BUSY"
	FUStateOffline FUState = "OFFLINE"
)

// Valid reports whether s is one of the known field unit states.
func (s FUState) Valid() bool {
	switch s {
	case FUStateIdle, FUStateBusy, FUStateOffline:
		return true
	}
	return false
}

// Health describes the hardware health a field unit reports, or that the
// orchestrator assigns when a unit goes stale or disconnects.
type Health string

const (
	HealthOK    Health = "OK"
	HealthError Health = "ERROR"
)

// Valid reports whether h is a known health value.
func (h Health) Valid() bool {
	return h == HealthOK || h == HealthError
}

// Location is a geodetic observer position. Altitude is not tracked; pass
// geometry assumes sea level, matching the planning inputs.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FieldUnit is the registry's record of one ground-station node. Records are
// created on first heartbeat and mutated by every subsequent heartbeat, the
// liveness sweep, and the execution engine; they are never hard-deleted.
type FieldUnit struct {
	ID        string    `json:"fu_id"`
	State     FUState   `json:"state"`
	Health    Health    `json:"health"`
	Mode      string    `json:"mode"`
	Azimuth   *float64  `json:"az"`
	Elevation *float64  `json:"el"`
	Location  *Location `json:"location"`
	LastSeen  time.Time `json:"last_seen"`

	// CurrentActivity is a lookup-only back-reference to the activity this
	// unit is executing. The execution engine owns it; heartbeats never
	// overwrite it.
	CurrentActivity string `json:"current_activity,omitempty"`
}

// Clone returns a deep copy so snapshot consumers cannot mutate registry
// records through shared pointers.
func (f *FieldUnit) Clone() *FieldUnit {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Azimuth != nil {
		az := *f.Azimuth
		cp.Azimuth = &az
	}
	if f.Elevation != nil {
		el := *f.Elevation
		cp.Elevation = &el
	}
	if f.Location != nil {
		loc := *f.Location
		cp.Location = &loc
	}
	return &cp
}

func (f *FieldUnit) String() string {
	if f == nil {
		return "<nil field unit>"
	}
	return fmt.Sprintf("FieldUnit(%s state=%s health=%s)", f.ID, f.State, f.Health)
}
