// Package passes computes satellite visibility windows for ground observers.
package passes

import (
	"context"
	"time"

	"github.com/signalsfoundry/groundlink/model"
)

// Window is one visibility interval: the satellite stays above the minimum
// elevation from Start through End, peaking at MaxElevationDeg.
type Window struct {
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	MaxElevationDeg float64   `json:"max_elevation_deg"`
}

// Provider is the visibility oracle the planner consults. Implementations
// must return windows that are chronologically ordered and non-overlapping,
// computed purely from the inputs. Errors are treated by callers as
// per-satellite skips, never as pipeline failures.
type Provider interface {
	Windows(ctx context.Context, tle model.TLE, observer model.Location,
		start time.Time, horizon time.Duration, minElevationDeg float64) ([]Window, error)
}
