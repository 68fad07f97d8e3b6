package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/passes"
)

// PlanConfig bounds candidate generation.
type PlanConfig struct {
	Horizon         time.Duration `mapstructure:"horizon"`
	MinElevationDeg float64       `mapstructure:"min_elevation_deg"`
}

// DefaultPlanConfig returns the stock planning parameters.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Horizon:         24 * time.Hour,
		MinElevationDeg: 10,
	}
}

// Planner turns the satellite catalog and fleet locations into candidate
// tracking activities.
type Planner struct {
	provider passes.Provider
	cfg      PlanConfig
	log      logging.Logger
}

// NewPlanner constructs a planner over the given visibility provider.
func NewPlanner(provider passes.Provider, cfg PlanConfig, log logging.Logger) *Planner {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultPlanConfig().Horizon
	}
	return &Planner{provider: provider, cfg: cfg, log: log}
}

// BuildCandidates computes per-unit candidate activities over the planning
// horizon. Units without a reported location are skipped with a warning, and
// a per-satellite propagation failure skips that satellite only. Satellites
// are walked in sorted catalog order and each unit's candidates come back
// sorted by start time, so identical inputs always yield the same candidate
// sequence (modulo the generated IDs).
func (p *Planner) BuildCandidates(ctx context.Context, units []*model.FieldUnit, tles model.TLESet, now time.Time) (map[string][]*model.Activity, error) {
	candidates := make(map[string][]*model.Activity)
	for _, fu := range units {
		if fu == nil {
			continue
		}
		if fu.Location == nil {
			p.log.Warn(ctx, "skipping field unit without location", logging.String("fu_id", fu.ID))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var acts []*model.Activity
		for _, name := range tles.Names() {
			tle := tles[name]
			windows, err := p.provider.Windows(ctx, tle, *fu.Location, now, p.cfg.Horizon, p.cfg.MinElevationDeg)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.log.Warn(ctx, "pass prediction failed for satellite",
					logging.String("fu_id", fu.ID),
					logging.String("satellite", name),
					logging.Err(err),
				)
				continue
			}
			for _, w := range windows {
				acts = append(acts, &model.Activity{
					ID:              uuid.NewString(),
					FUID:            fu.ID,
					Satellite:       tle.Name,
					NoradID:         tle.NoradID,
					Kind:            model.KindTrack,
					Start:           w.Start,
					End:             w.End,
					MaxElevationDeg: w.MaxElevationDeg,
					State:           model.ActivityPlanned,
					CreatedAt:       now,
				})
			}
		}
		sort.SliceStable(acts, func(i, j int) bool { return acts[i].Start.Before(acts[j].Start) })
		if len(acts) > 0 {
			candidates[fu.ID] = acts
		}
	}
	return candidates, nil
}
