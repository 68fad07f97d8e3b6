// Package engine drives the activity execution state machine: tick-based
// activation and completion, command dispatch, acknowledgement handling, and
// full schedule regeneration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/registry"
	"github.com/signalsfoundry/groundlink/internal/schedule"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
)

// ErrRegenerationBusy indicates a regeneration request arrived while another
// run was still in flight. Callers surface this as a conflict, not a failure.
var ErrRegenerationBusy = errors.New("schedule regeneration already in progress")

// ErrEmptyCatalog indicates a regeneration ran without any orbital elements
// to plan against. The run fails; the previous schedule stays in place.
var ErrEmptyCatalog = errors.New("satellite catalog is empty")

// CommandSender delivers a command to a connected field unit.
type CommandSender interface {
	SendCommand(ctx context.Context, fuID string, cmd *model.Command) error
}

// SchedulePusher delivers a unit's refreshed schedule to it.
type SchedulePusher interface {
	PushSchedule(ctx context.Context, fuID string, activities []*model.Activity) error
}

// TLESource supplies the current satellite catalog.
type TLESource interface {
	Catalog() model.TLESet
}

// MetricsRecorder receives engine-side measurements. *observability.FleetCollector
// satisfies it.
type MetricsRecorder interface {
	SetActivityCounts(planned, active, completed int)
	IncActivations()
	IncCompletions()
	IncCommands()
	IncAcks(status string)
	ObserveRegeneration(result string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) SetActivityCounts(int, int, int)           {}
func (noopMetrics) IncActivations()                           {}
func (noopMetrics) IncCompletions()                           {}
func (noopMetrics) IncCommands()                              {}
func (noopMetrics) IncAcks(string)                            {}
func (noopMetrics) ObserveRegeneration(string, time.Duration) {}

// Engine owns the activity lifecycle. Tick is serialized by its own mutex on
// top of the tick controller's sequential dispatch, so a slow regeneration
// can never interleave two scan passes.
type Engine struct {
	reg     *registry.Registry
	sched   *schedule.Schedule
	store   *schedule.Store
	planner *schedule.Planner
	sender  CommandSender
	pusher  SchedulePusher
	tles    TLESource
	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder

	tickMu sync.Mutex

	regenMu   sync.Mutex
	regenBusy bool

	inflightMu sync.Mutex
	inflight   map[string]string // command id -> activity id
}

// Config carries the engine's collaborators. Store, Pusher, and Metrics are
// optional.
type Config struct {
	Registry *registry.Registry
	Schedule *schedule.Schedule
	Store    *schedule.Store
	Planner  *schedule.Planner
	Sender   CommandSender
	Pusher   SchedulePusher
	TLEs     TLESource
	Clock    timectrl.Clock
	Logger   logging.Logger
	Metrics  MetricsRecorder
}

// New constructs the engine.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		reg:      cfg.Registry,
		sched:    cfg.Schedule,
		store:    cfg.Store,
		planner:  cfg.Planner,
		sender:   cfg.Sender,
		pusher:   cfg.Pusher,
		tles:     cfg.TLEs,
		clock:    clock,
		log:      log,
		metrics:  metrics,
		inflight: make(map[string]string),
	}
}

// LoadPersisted restores the schedule saved by a previous run.
func (e *Engine) LoadPersisted(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	acts, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	e.sched.Replace(acts)
	e.recordActivityCounts()
	e.log.Info(ctx, "restored persisted schedule", logging.Int("activities", len(acts)))
	return nil
}

// Tick runs one scan-then-mutate pass at the given time: elapsed ACTIVE
// activities complete and release their units, then IDLE units with an
// in-window PLANNED activity are activated and commanded.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.completeElapsed(ctx, now)
	e.activateEligible(ctx, now)
	e.recordActivityCounts()
}

func (e *Engine) completeElapsed(ctx context.Context, now time.Time) {
	for _, act := range e.sched.CompleteElapsed(now) {
		if e.store != nil {
			e.store.UpdateState(ctx, act.ID, model.ActivityCompleted)
		}
		// ReleaseActivity restores IDLE only if the unit has not
		// independently gone OFFLINE.
		e.reg.ReleaseActivity(act.FUID)
		e.metrics.IncCompletions()
		e.dropInflightFor(act.ID)
		e.log.Info(ctx, "activity completed",
			logging.String("activity_id", act.ID),
			logging.String("fu_id", act.FUID),
			logging.String("satellite", act.Satellite),
		)
	}
}

func (e *Engine) activateEligible(ctx context.Context, now time.Time) {
	for _, fu := range e.reg.Snapshot() {
		if fu.State != model.FUStateIdle {
			continue
		}
		// The schedule, not the heartbeat, decides whether the unit is
		// free: a unit reporting IDLE mid-track must not pick up a second
		// overlapping activity.
		if e.sched.HasActive(fu.ID) {
			continue
		}
		act, ok := e.sched.NextEligible(fu.ID, now)
		if !ok {
			continue
		}
		if err := e.reg.AssignActivity(fu.ID, act.ID); err != nil {
			// The unit was claimed between snapshot and assignment.
			continue
		}
		if err := e.sched.MarkActive(act.ID); err != nil {
			e.reg.ReleaseActivity(fu.ID)
			e.log.Warn(ctx, "failed to activate eligible activity",
				logging.String("activity_id", act.ID), logging.Err(err))
			continue
		}
		if e.store != nil {
			e.store.UpdateState(ctx, act.ID, model.ActivityActive)
		}
		e.metrics.IncActivations()
		e.log.Info(ctx, "activity activated",
			logging.String("activity_id", act.ID),
			logging.String("fu_id", fu.ID),
			logging.String("satellite", act.Satellite),
		)
		e.dispatchTrackCommand(ctx, fu.ID, act, now)
	}
}

func (e *Engine) dispatchTrackCommand(ctx context.Context, fuID string, act *model.Activity, now time.Time) {
	cmd := &model.Command{
		ID:         uuid.NewString(),
		FUID:       fuID,
		Type:       model.CommandTrack,
		ActivityID: act.ID,
		Args: model.TrackArgs{
			Satellite: act.Satellite,
			NoradID:   act.NoradID,
			EndTime:   act.End,
		},
		Timestamp: now,
	}

	if e.sender == nil {
		return
	}
	if err := e.sender.SendCommand(ctx, fuID, cmd); err != nil {
		// The activity stays ACTIVE; the unit rejoins mid-window or the
		// window completes normally.
		e.log.Warn(ctx, "command dispatch failed",
			logging.String("fu_id", fuID),
			logging.String("command_id", cmd.ID),
			logging.Err(err),
		)
		return
	}
	e.inflightMu.Lock()
	e.inflight[cmd.ID] = act.ID
	e.inflightMu.Unlock()
	e.metrics.IncCommands()
}

// HandleAck consumes a command acknowledgement from a field unit. Unknown
// command IDs are logged and dropped; they are stale responses from before a
// restart or regeneration.
func (e *Engine) HandleAck(ctx context.Context, ack model.CommandAck) {
	e.inflightMu.Lock()
	activityID, known := e.inflight[ack.CommandID]
	delete(e.inflight, ack.CommandID)
	e.inflightMu.Unlock()

	e.metrics.IncAcks(string(ack.Status))
	if !known {
		e.log.Warn(ctx, "acknowledgement for unknown command",
			logging.String("fu_id", ack.FUID),
			logging.String("command_id", ack.CommandID),
		)
		return
	}
	if ack.Status == model.AckNack {
		e.log.Warn(ctx, "field unit rejected command",
			logging.String("fu_id", ack.FUID),
			logging.String("command_id", ack.CommandID),
			logging.String("activity_id", activityID),
			logging.String("reason", ack.Reason),
		)
		return
	}
	e.log.Info(ctx, "command acknowledged",
		logging.String("fu_id", ack.FUID),
		logging.String("command_id", ack.CommandID),
		logging.String("activity_id", activityID),
	)
}

// InsertCustomTrack validates and schedules an operator-supplied activity
// for a known field unit. The activity enters PLANNED and flows through the
// same tick lifecycle as planner output.
func (e *Engine) InsertCustomTrack(ctx context.Context, act *model.Activity) (*model.Activity, error) {
	if act == nil {
		return nil, model.ErrInvalidActivity
	}
	cp := act.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Kind = model.KindCustomTrack
	cp.State = model.ActivityPlanned
	cp.CreatedAt = e.clock.Now()

	if _, ok := e.reg.Get(cp.FUID); !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownFieldUnit, cp.FUID)
	}
	if err := e.sched.Insert(cp); err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.Insert(ctx, cp); err != nil {
			e.log.Warn(ctx, "failed to persist custom track", logging.Err(err))
		}
	}
	e.recordActivityCounts()
	e.pushUnitSchedule(ctx, cp.FUID)
	e.log.Info(ctx, "custom track scheduled",
		logging.String("activity_id", cp.ID),
		logging.String("fu_id", cp.FUID),
		logging.String("satellite", cp.Satellite),
	)
	return cp.Clone(), nil
}

// Regenerate rebuilds the whole plan: candidate passes for every located
// unit, round-robin assignment across the fleet, persistence, and a schedule
// push to each affected unit. Only one regeneration runs at a time; a second
// request gets ErrRegenerationBusy.
func (e *Engine) Regenerate(ctx context.Context) error {
	if !e.beginRegeneration() {
		e.metrics.ObserveRegeneration("busy", 0)
		return ErrRegenerationBusy
	}
	defer e.endRegeneration()

	ctx, span := otel.Tracer("groundlink/engine").Start(ctx, "schedule.regenerate")
	defer span.End()

	started := time.Now()
	now := e.clock.Now()

	catalog := e.tles.Catalog()
	if len(catalog) == 0 {
		span.RecordError(ErrEmptyCatalog)
		e.metrics.ObserveRegeneration("error", time.Since(started))
		e.log.Warn(ctx, "regeneration without orbital elements; keeping previous schedule")
		return ErrEmptyCatalog
	}

	units := e.reg.Snapshot()
	if len(units) == 0 {
		e.log.Warn(ctx, "regeneration with no registered field units; keeping previous schedule")
		e.metrics.ObserveRegeneration("ok", time.Since(started))
		return nil
	}
	fuIDs := make([]string, 0, len(units))
	for _, fu := range units {
		fuIDs = append(fuIDs, fu.ID)
	}

	candidates, err := e.planner.BuildCandidates(ctx, units, catalog, now)
	if err != nil {
		span.RecordError(err)
		e.metrics.ObserveRegeneration("error", time.Since(started))
		return fmt.Errorf("build candidates: %w", err)
	}
	assigned := schedule.AssignRoundRobin(candidates, fuIDs)

	// In-flight activities survive the swap, so the persisted plan must
	// carry them too or a restart mid-pass would lose them.
	plan := append(e.sched.ActiveActivities(), assigned...)

	if e.store != nil {
		if err := e.store.Save(ctx, plan); err != nil {
			span.RecordError(err)
			e.metrics.ObserveRegeneration("error", time.Since(started))
			return err
		}
	}
	e.sched.Replace(plan)
	e.recordActivityCounts()

	for _, fuID := range fuIDs {
		e.pushUnitSchedule(ctx, fuID)
	}

	span.SetAttributes(
		attribute.Int("fleet.units", len(units)),
		attribute.Int("schedule.activities", len(plan)),
	)
	e.metrics.ObserveRegeneration("ok", time.Since(started))
	e.log.Info(ctx, "schedule regenerated",
		logging.Int("units", len(units)),
		logging.Int("activities", len(plan)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (e *Engine) beginRegeneration() bool {
	e.regenMu.Lock()
	defer e.regenMu.Unlock()
	if e.regenBusy {
		return false
	}
	e.regenBusy = true
	return true
}

func (e *Engine) endRegeneration() {
	e.regenMu.Lock()
	e.regenBusy = false
	e.regenMu.Unlock()
}

func (e *Engine) pushUnitSchedule(ctx context.Context, fuID string) {
	if e.pusher == nil {
		return
	}
	if err := e.pusher.PushSchedule(ctx, fuID, e.sched.ForFU(fuID)); err != nil {
		e.log.Debug(ctx, "schedule push skipped",
			logging.String("fu_id", fuID), logging.Err(err))
	}
}

func (e *Engine) recordActivityCounts() {
	planned, active, completed := e.sched.Counts()
	e.metrics.SetActivityCounts(planned, active, completed)
}

func (e *Engine) dropInflightFor(activityID string) {
	e.inflightMu.Lock()
	for cmdID, actID := range e.inflight {
		if actID == activityID {
			delete(e.inflight, cmdID)
		}
	}
	e.inflightMu.Unlock()
}
