package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeFleetRecorder struct {
	mu     sync.Mutex
	total  int
	online int
}

func (f *fakeFleetRecorder) SetFleetCounts(total, online int) {
	f.mu.Lock()
	f.total = total
	f.online = online
	f.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *fakeFleetRecorder) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &fakeFleetRecorder{}
	r := New(DefaultConfig(), clock, logging.Noop(), WithMetricsRecorder(rec))
	return r, clock, rec
}

func idleReport(fuID string) StatusReport {
	return StatusReport{
		FUID:     fuID,
		State:    model.FUStateIdle,
		Health:   model.HealthOK,
		Location: &model.Location{Latitude: 28.6139, Longitude: 77.2090},
	}
}

func TestReportStatusRegistersUnit(t *testing.T) {
	r, clock, rec := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))

	fu, ok := r.Get("FU-A1")
	if !ok {
		t.Fatal("expected unit to be registered")
	}
	if fu.State != model.FUStateIdle {
		t.Errorf("state = %s, want IDLE", fu.State)
	}
	if !fu.LastSeen.Equal(clock.Now()) {
		t.Errorf("last seen = %v, want %v", fu.LastSeen, clock.Now())
	}
	if rec.total != 1 || rec.online != 1 {
		t.Errorf("fleet counts = (%d, %d), want (1, 1)", rec.total, rec.online)
	}
}

func TestReportStatusDropsEmptyID(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	r.ReportStatus(context.Background(), StatusReport{State: model.FUStateIdle})

	if got := len(r.Snapshot()); got != 0 {
		t.Fatalf("snapshot has %d units, want 0", got)
	}
}

func TestReportStatusKeepsCurrentActivity(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))
	if err := r.AssignActivity("FU-A1", "act-1"); err != nil {
		t.Fatalf("AssignActivity: %v", err)
	}

	rep := idleReport("FU-A1")
	rep.State = model.FUStateBusy
	r.ReportStatus(ctx, rep)

	fu, _ := r.Get("FU-A1")
	if fu.CurrentActivity != "act-1" {
		t.Errorf("current activity = %q, want act-1", fu.CurrentActivity)
	}
}

func TestSweepMarksStaleUnitsOffline(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))
	r.ReportStatus(ctx, idleReport("FU-B2"))

	clock.Advance(60 * time.Second)
	r.ReportStatus(ctx, idleReport("FU-B2"))

	clock.Advance(90 * time.Second)
	r.Sweep(ctx, clock.Now())

	a, _ := r.Get("FU-A1")
	if a.State != model.FUStateOffline || a.Health != model.HealthError {
		t.Errorf("FU-A1 = (%s, %s), want (OFFLINE, ERROR)", a.State, a.Health)
	}
	b, _ := r.Get("FU-B2")
	if b.State != model.FUStateIdle {
		t.Errorf("FU-B2 state = %s, want IDLE", b.State)
	}
}

func TestHeartbeatRecoversOfflineUnit(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))
	clock.Advance(5 * time.Minute)
	r.Sweep(ctx, clock.Now())

	fu, _ := r.Get("FU-A1")
	if fu.State != model.FUStateOffline {
		t.Fatalf("state = %s, want OFFLINE after sweep", fu.State)
	}

	r.ReportStatus(ctx, idleReport("FU-A1"))
	fu, _ = r.Get("FU-A1")
	if fu.State != model.FUStateIdle || fu.Health != model.HealthOK {
		t.Errorf("after recovery = (%s, %s), want (IDLE, OK)", fu.State, fu.Health)
	}
}

func TestSessionCloseForcesOffline(t *testing.T) {
	r, _, rec := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))
	r.BindSession("sess-1", "FU-A1")
	r.OnSessionClosed(ctx, "sess-1")

	fu, _ := r.Get("FU-A1")
	if fu.State != model.FUStateOffline || fu.Health != model.HealthError {
		t.Errorf("after disconnect = (%s, %s), want (OFFLINE, ERROR)", fu.State, fu.Health)
	}
	if rec.online != 0 {
		t.Errorf("online = %d, want 0", rec.online)
	}
}

func TestSessionCloseUnknownSessionIsNoop(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))
	r.OnSessionClosed(ctx, "never-bound")

	fu, _ := r.Get("FU-A1")
	if fu.State != model.FUStateIdle {
		t.Errorf("state = %s, want IDLE", fu.State)
	}
}

func TestRebindReplacesOldSession(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))
	r.BindSession("sess-1", "FU-A1")
	r.BindSession("sess-2", "FU-A1")

	// Closing the stale session must not knock the reconnected unit offline.
	r.OnSessionClosed(ctx, "sess-1")
	fu, _ := r.Get("FU-A1")
	if fu.State != model.FUStateIdle {
		t.Errorf("state = %s, want IDLE after stale session close", fu.State)
	}

	r.OnSessionClosed(ctx, "sess-2")
	fu, _ = r.Get("FU-A1")
	if fu.State != model.FUStateOffline {
		t.Errorf("state = %s, want OFFLINE after live session close", fu.State)
	}
}

func TestAssignActivityRequiresIdle(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AssignActivity("FU-A1", "act-1"); err != ErrUnknownFieldUnit {
		t.Errorf("unknown unit err = %v, want ErrUnknownFieldUnit", err)
	}

	r.ReportStatus(ctx, idleReport("FU-A1"))
	if err := r.AssignActivity("FU-A1", "act-1"); err != nil {
		t.Fatalf("AssignActivity: %v", err)
	}
	if err := r.AssignActivity("FU-A1", "act-2"); err != ErrUnitNotIdle {
		t.Errorf("busy unit err = %v, want ErrUnitNotIdle", err)
	}
}

func TestReleaseActivityRespectsDisconnect(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-A1"))
	r.BindSession("sess-1", "FU-A1")
	if err := r.AssignActivity("FU-A1", "act-1"); err != nil {
		t.Fatalf("AssignActivity: %v", err)
	}

	r.OnSessionClosed(ctx, "sess-1")
	r.ReleaseActivity("FU-A1")

	fu, _ := r.Get("FU-A1")
	if fu.State != model.FUStateOffline {
		t.Errorf("state = %s, want OFFLINE (disconnect wins over release)", fu.State)
	}
	if fu.CurrentActivity != "" {
		t.Errorf("current activity = %q, want cleared", fu.CurrentActivity)
	}
}

func TestSnapshotIsSortedAndDetached(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r.ReportStatus(ctx, idleReport("FU-C3"))
	r.ReportStatus(ctx, idleReport("FU-A1"))
	r.ReportStatus(ctx, idleReport("FU-B2"))

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size = %d, want 3", len(snap))
	}
	for i, want := range []string{"FU-A1", "FU-B2", "FU-C3"} {
		if snap[i].ID != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}

	snap[0].State = model.FUStateBusy
	fu, _ := r.Get("FU-A1")
	if fu.State != model.FUStateIdle {
		t.Error("mutating a snapshot leaked into the registry")
	}
}
