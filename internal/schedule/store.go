package schedule

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
)

// ActivityRecord is the durable row form of an activity.
type ActivityRecord struct {
	ActivityID      string    `gorm:"column:activity_id;primaryKey"`
	FUID            string    `gorm:"column:fu_id;index"`
	Satellite       string    `gorm:"column:satellite"`
	NoradID         string    `gorm:"column:norad_id"`
	Kind            string    `gorm:"column:kind"`
	StartTime       time.Time `gorm:"column:start_time"`
	EndTime         time.Time `gorm:"column:end_time"`
	MaxElevationDeg float64   `gorm:"column:max_elevation_deg"`
	State           string    `gorm:"column:state"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

// TableName pins the table name regardless of gorm's pluralisation rules.
func (ActivityRecord) TableName() string { return "activities" }

// Store persists the schedule to SQLite so a restart resumes the current
// plan instead of flying blind until the next regeneration.
type Store struct {
	db  *gorm.DB
	log logging.Logger
}

// OpenStore opens (and migrates) the schedule database at path.
func OpenStore(path string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open schedule store: %w", err)
	}
	if err := db.AutoMigrate(&ActivityRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schedule store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Save replaces the persisted plan with the given activities in one
// transaction.
func (s *Store) Save(ctx context.Context, activities []*model.Activity) error {
	records := make([]ActivityRecord, 0, len(activities))
	for _, act := range activities {
		if act == nil {
			continue
		}
		records = append(records, recordFromActivity(act))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ActivityRecord{}).Error; err != nil {
			return fmt.Errorf("clear persisted schedule: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("persist schedule: %w", err)
		}
		return nil
	})
}

// Load returns every persisted activity, ordered by start time.
func (s *Store) Load(ctx context.Context) ([]*model.Activity, error) {
	var records []ActivityRecord
	if err := s.db.WithContext(ctx).Order("start_time").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load persisted schedule: %w", err)
	}
	out := make([]*model.Activity, 0, len(records))
	for i := range records {
		out = append(out, records[i].toActivity())
	}
	return out, nil
}

// UpdateState records a lifecycle transition. Persistence of transitions is
// best effort: the in-memory schedule is authoritative and a failed write
// only costs fidelity across a restart, so the error is logged, not
// propagated.
func (s *Store) UpdateState(ctx context.Context, activityID string, state model.ActivityState) {
	err := s.db.WithContext(ctx).
		Model(&ActivityRecord{}).
		Where("activity_id = ?", activityID).
		Update("state", string(state)).Error
	if err != nil {
		s.log.Warn(ctx, "failed to persist activity state",
			logging.String("activity_id", activityID),
			logging.String("state", string(state)),
			logging.Err(err),
		)
	}
}

// Insert persists one additional activity.
func (s *Store) Insert(ctx context.Context, act *model.Activity) error {
	record := recordFromActivity(act)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("persist activity %s: %w", act.ID, err)
	}
	return nil
}

func recordFromActivity(act *model.Activity) ActivityRecord {
	return ActivityRecord{
		ActivityID:      act.ID,
		FUID:            act.FUID,
		Satellite:       act.Satellite,
		NoradID:         act.NoradID,
		Kind:            string(act.Kind),
		StartTime:       act.Start.UTC(),
		EndTime:         act.End.UTC(),
		MaxElevationDeg: act.MaxElevationDeg,
		State:           string(act.State),
		CreatedAt:       act.CreatedAt.UTC(),
	}
}

func (r *ActivityRecord) toActivity() *model.Activity {
	return &model.Activity{
		ID:              r.ActivityID,
		FUID:            r.FUID,
		Satellite:       r.Satellite,
		NoradID:         r.NoradID,
		Kind:            model.ActivityKind(r.Kind),
		Start:           r.StartTime.UTC(),
		End:             r.EndTime.UTC(),
		MaxElevationDeg: r.MaxElevationDeg,
		State:           model.ActivityState(r.State),
		CreatedAt:       r.CreatedAt.UTC(),
	}
}
