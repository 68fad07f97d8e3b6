// Package registry holds the authoritative in-memory directory of field
// units and runs the liveness sweep that marks stale units OFFLINE.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
)

var (
	// ErrUnknownFieldUnit indicates a lookup for a unit that never
	// heartbeated.
	ErrUnknownFieldUnit = errors.New("unknown field unit")
	// ErrUnitNotIdle indicates an activation attempt against a unit that
	// is busy or offline.
	ErrUnitNotIdle = errors.New("field unit is not idle")
)

// Config holds the liveness parameters.
type Config struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the stock liveness parameters.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 5 * time.Second,
		Timeout:       120 * time.Second,
	}
}

// StatusReport is one decoded heartbeat from a field unit.
type StatusReport struct {
	FUID      string          `json:"fu_id"`
	State     model.FUState   `json:"state"`
	Health    model.Health    `json:"health"`
	Mode      string          `json:"mode"`
	Azimuth   *float64        `json:"az"`
	Elevation *float64        `json:"el"`
	Location  *model.Location `json:"location"`
}

// FleetMetricsRecorder receives fleet counts after every mutation.
type FleetMetricsRecorder interface {
	SetFleetCounts(total, online int)
}

// Registry is the directory of known field units plus the binding between
// live transport sessions and unit IDs. All access goes through the
// registry's lock; Snapshot hands out copies only.
type Registry struct {
	mu        sync.RWMutex
	units     map[string]*model.FieldUnit
	sessions  map[string]string // session id -> fu id
	sessionBy map[string]string // fu id -> session id

	clock   timectrl.Clock
	cfg     Config
	log     logging.Logger
	metrics FleetMetricsRecorder
}

// Option customises Registry construction.
type Option func(*Registry)

// WithMetricsRecorder attaches a fleet-count recorder.
func WithMetricsRecorder(m FleetMetricsRecorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// New constructs an empty registry.
func New(cfg Config, clock timectrl.Clock, log logging.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	r := &Registry{
		units:     make(map[string]*model.FieldUnit),
		sessions:  make(map[string]string),
		sessionBy: make(map[string]string),
		clock:     clock,
		cfg:       cfg,
		log:       log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ReportStatus upserts the field unit from a heartbeat, stamping LastSeen.
// Unknown IDs create a new record; a report with an empty ID is dropped with
// a warning and no state mutation.
func (r *Registry) ReportStatus(ctx context.Context, rep StatusReport) {
	if rep.FUID == "" {
		r.log.Warn(ctx, "dropping status report without fu_id")
		return
	}
	if !rep.State.Valid() {
		r.log.Warn(ctx, "dropping status report with unknown state",
			logging.String("fu_id", rep.FUID),
			logging.String("state", string(rep.State)),
		)
		return
	}

	r.mu.Lock()
	fu, ok := r.units[rep.FUID]
	if !ok {
		fu = &model.FieldUnit{ID: rep.FUID}
		r.units[rep.FUID] = fu
		r.log.Info(ctx, "field unit registered", logging.String("fu_id", rep.FUID))
	}
	fu.State = rep.State
	fu.Health = rep.Health
	if !fu.Health.Valid() {
		fu.Health = model.HealthOK
	}
	fu.Mode = rep.Mode
	fu.Azimuth = rep.Azimuth
	fu.Elevation = rep.Elevation
	if rep.Location != nil {
		loc := *rep.Location
		fu.Location = &loc
	}
	fu.LastSeen = r.clock.Now()
	r.updateMetricsLocked()
	r.mu.Unlock()
}

// BindSession records the live transport session that represents fuID.
// Rebinding an existing unit to a new session replaces the old binding,
// which is how reconnects work.
func (r *Registry) BindSession(sessionID, fuID string) {
	if sessionID == "" || fuID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessionBy[fuID]; ok && old != sessionID {
		delete(r.sessions, old)
	}
	r.sessions[sessionID] = fuID
	r.sessionBy[fuID] = sessionID
}

// OnSessionClosed forces the bound unit OFFLINE immediately, independent of
// heartbeat age. Disconnect is authoritative.
func (r *Registry) OnSessionClosed(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fuID, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	if r.sessionBy[fuID] == sessionID {
		delete(r.sessionBy, fuID)
	}

	fu, ok := r.units[fuID]
	if !ok {
		return
	}
	fu.State = model.FUStateOffline
	fu.Health = model.HealthError
	r.updateMetricsLocked()
	r.log.Info(ctx, "field unit disconnected", logging.String("fu_id", fuID))
}

// Get returns a copy of one unit's record.
func (r *Registry) Get(fuID string) (*model.FieldUnit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fu, ok := r.units[fuID]
	if !ok {
		return nil, false
	}
	return fu.Clone(), true
}

// Snapshot returns point-in-time copies of every unit, sorted by ID.
func (r *Registry) Snapshot() []*model.FieldUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.FieldUnit, 0, len(r.units))
	for _, fu := range r.units {
		out = append(out, fu.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AssignActivity marks the unit BUSY with the given activity. The IDLE
// precondition and the state+back-reference pair are checked and written
// under one lock hold so activation is atomic with respect to heartbeats
// and the sweep.
func (r *Registry) AssignActivity(fuID, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fu, ok := r.units[fuID]
	if !ok {
		return ErrUnknownFieldUnit
	}
	if fu.State != model.FUStateIdle {
		return ErrUnitNotIdle
	}
	fu.State = model.FUStateBusy
	fu.CurrentActivity = activityID
	return nil
}

// ReleaseActivity clears the unit's activity back-reference and restores
// IDLE unless the unit has independently gone OFFLINE (disconnect wins).
func (r *Registry) ReleaseActivity(fuID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fu, ok := r.units[fuID]
	if !ok {
		return
	}
	fu.CurrentActivity = ""
	if fu.State != model.FUStateOffline {
		fu.State = model.FUStateIdle
	}
}

// RunSweeper runs the staleness sweep at the configured interval until ctx
// is cancelled.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx, r.clock.Now())
		}
	}
}

// Sweep marks every non-OFFLINE unit whose heartbeat is older than the
// configured timeout as OFFLINE with health ERROR. The unit recovers to
// whatever its next heartbeat reports.
func (r *Registry) Sweep(ctx context.Context, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, fu := range r.units {
		if fu.State == model.FUStateOffline {
			continue
		}
		if now.Sub(fu.LastSeen) > r.cfg.Timeout {
			fu.State = model.FUStateOffline
			fu.Health = model.HealthError
			changed++
			r.log.Warn(ctx, "field unit went stale",
				logging.String("fu_id", fu.ID),
				logging.Time("last_seen", fu.LastSeen),
			)
		}
	}
	if changed > 0 {
		r.updateMetricsLocked()
	}
}

func (r *Registry) updateMetricsLocked() {
	if r.metrics == nil {
		return
	}
	online := 0
	for _, fu := range r.units {
		if fu.State != model.FUStateOffline {
			online++
		}
	}
	r.metrics.SetFleetCounts(len(r.units), online)
}
