package passes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/groundlink/model"
)

const (
	coarseStep = 30 * time.Second
	fineStep   = time.Second
	minPassDur = 10 * time.Second
)

// ErrBadTLE indicates the element set could not be used for propagation.
var ErrBadTLE = errors.New("bad two-line element set")

// SGP4Provider predicts visibility windows by propagating the satellite with
// SGP4 and sampling its elevation above the observer. It is stateless: every
// call works purely from the supplied element set and time window.
type SGP4Provider struct{}

// NewSGP4Provider returns the default visibility Provider.
func NewSGP4Provider() *SGP4Provider { return &SGP4Provider{} }

// Windows scans the horizon at a coarse step looking for intervals above
// minElevationDeg, then refines each rise and set to one-second resolution.
func (p *SGP4Provider) Windows(ctx context.Context, tle model.TLE, observer model.Location,
	start time.Time, horizon time.Duration, minElevationDeg float64) ([]Window, error) {

	sat, err := newSatellite(tle)
	if err != nil {
		return nil, err
	}

	obs := GeodeticToECEF(observer.Latitude, observer.Longitude)
	end := start.Add(horizon)

	var windows []Window
	t := start.UTC()
	for t.Before(end) {
		if err := ctx.Err(); err != nil {
			return windows, err
		}

		if elevationAt(sat, obs, t) >= minElevationDeg {
			w := refineWindow(sat, obs, t, start.UTC(), end, minElevationDeg)
			if w.End.Sub(w.Start) >= minPassDur {
				windows = append(windows, w)
			}
			// Jump past this window before resuming the coarse scan.
			t = w.End.Add(coarseStep)
			continue
		}
		t = t.Add(coarseStep)
	}

	return windows, nil
}

func newSatellite(tle model.TLE) (satellite.Satellite, error) {
	line1 := strings.TrimSpace(tle.Line1)
	line2 := strings.TrimSpace(tle.Line2)
	if len(line1) < 69 || len(line2) < 69 ||
		!strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return satellite.Satellite{}, fmt.Errorf("%w: %q", ErrBadTLE, tle.Name)
	}
	return satellite.TLEToSat(line1, line2, satellite.GravityWGS72), nil
}

// elevationAt propagates the satellite to t and returns its elevation in
// degrees as seen from the observer's ECEF position.
func elevationAt(sat satellite.Satellite, obs Vec3, t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	return ElevationDegrees(obs, Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z})
}

// refineWindow expands a coarse above-threshold hit into a full window:
// back up to the actual rise, scan forward to the set, and track the peak
// elevation along the way.
func refineWindow(sat satellite.Satellite, obs Vec3, coarseHit, windowStart, windowEnd time.Time, minElev float64) Window {
	rise := coarseHit
	for rise.After(windowStart) {
		prev := rise.Add(-fineStep)
		if elevationAt(sat, obs, prev) < minElev {
			break
		}
		rise = prev
	}

	maxElev := elevationAt(sat, obs, rise)
	set := rise
	for set.Before(windowEnd) {
		next := set.Add(fineStep)
		el := elevationAt(sat, obs, next)
		if el < minElev {
			break
		}
		if el > maxElev {
			maxElev = el
		}
		set = next
	}

	return Window{Start: rise, End: set, MaxElevationDeg: maxElev}
}
