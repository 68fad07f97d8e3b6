package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "schedule.db"), logging.Noop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return store
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	acts := []*model.Activity{
		plannedActivity("act-2", "FU-B2", testEpoch.Add(time.Hour), testEpoch.Add(2*time.Hour)),
		plannedActivity("act-1", "FU-A1", testEpoch, testEpoch.Add(10*time.Minute)),
	}
	if err := store.Save(ctx, acts); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d activities, want 2", len(loaded))
	}
	if loaded[0].ID != "act-1" || loaded[1].ID != "act-2" {
		t.Errorf("load order = [%s %s], want start-time order", loaded[0].ID, loaded[1].ID)
	}
	got := loaded[0]
	if got.FUID != "FU-A1" || got.Satellite != "ISS (ZARYA)" || got.NoradID != "25544" {
		t.Errorf("loaded activity fields = %+v", got)
	}
	if !got.Start.Equal(testEpoch) {
		t.Errorf("start = %v, want %v", got.Start, testEpoch)
	}
	if got.State != model.ActivityPlanned || got.Kind != model.KindTrack {
		t.Errorf("loaded (state, kind) = (%s, %s)", got.State, got.Kind)
	}
}

func TestStoreSaveReplacesPreviousPlan(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := []*model.Activity{plannedActivity("act-old", "FU-A1", testEpoch, testEpoch.Add(10*time.Minute))}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := []*model.Activity{plannedActivity("act-new", "FU-A1", testEpoch.Add(time.Hour), testEpoch.Add(2*time.Hour))}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "act-new" {
		t.Fatalf("loaded = %v, want [act-new]", loaded)
	}
}

func TestStoreSaveEmptyPlanClears(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, []*model.Activity{plannedActivity("act-1", "FU-A1", testEpoch, testEpoch.Add(10*time.Minute))}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("Save empty: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("loaded %d activities after clearing, want 0", len(loaded))
	}
}

func TestStoreUpdateStateAndInsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	act := plannedActivity("act-1", "FU-A1", testEpoch, testEpoch.Add(10*time.Minute))
	if err := store.Insert(ctx, act); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	store.UpdateState(ctx, "act-1", model.ActivityActive)

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d activities, want 1", len(loaded))
	}
	if loaded[0].State != model.ActivityActive {
		t.Errorf("state = %s, want ACTIVE", loaded[0].State)
	}
}
