// Package analytics turns a user's crop, task and activity records into the
// dashboard statistics served by the analytics endpoint.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"farmline/internal/domain"
)

// ErrUserRequired is returned before any store is queried when the caller
// identity is empty.
var ErrUserRequired = errors.New("analytics: user id required")

type CropLister interface {
	FindCropsByUser(ctx context.Context, userID string) ([]domain.Crop, error)
}

type TaskStatter interface {
	TaskStats(ctx context.Context, userID string, now time.Time) (domain.TaskStats, error)
}

type ActivityStatter interface {
	WaterUsageStats(ctx context.Context, userID string, rng domain.DateRange) (domain.WaterStats, error)
	FertilizerUsageStats(ctx context.Context, userID string, rng domain.DateRange) (domain.FertilizerStats, error)
	YieldStats(ctx context.Context, userID string, rng domain.DateRange) (domain.YieldStats, error)
	PestDiseaseStats(ctx context.Context, userID string, rng domain.DateRange) (domain.PestDiseaseStats, error)
}

// Dashboard is recomputed from the bundles on every call.
type Dashboard struct {
	TotalCrops     int     `json:"totalCrops"`
	ActiveTasks    int     `json:"activeTasks"`
	OverdueTasks   int     `json:"overdueTasks"`
	RecentHarvests int     `json:"recentHarvests"`
	TotalYield     float64 `json:"totalYield"`
	WaterUsage     float64 `json:"waterUsage"`
}

// CropSummary is the reduced crop shape exposed in analytics payloads.
type CropSummary struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Status              domain.CropStatus `json:"status"`
	PlantingDate        time.Time         `json:"plantingDate"`
	ExpectedHarvestDate time.Time         `json:"expectedHarvestDate"`
}

type Result struct {
	Dashboard   Dashboard               `json:"dashboard"`
	Water       domain.WaterStats       `json:"water"`
	Fertilizer  domain.FertilizerStats  `json:"fertilizer"`
	Yield       domain.YieldStats       `json:"yield"`
	PestDisease domain.PestDiseaseStats `json:"pestDisease"`
	Crops       []CropSummary           `json:"crops"`
}

type Engine struct {
	Crops      CropLister
	Tasks      TaskStatter
	Activities ActivityStatter
	Now        func() time.Time
}

func New(crops CropLister, tasks TaskStatter, activities ActivityStatter) *Engine {
	return &Engine{Crops: crops, Tasks: tasks, Activities: activities, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Aggregate runs the crop listing, task statistics and the four activity
// bundles concurrently and joins them. The first failure cancels the
// remaining queries and fails the whole aggregation; no partial Result is
// ever returned. Aggregate does not return until every query has finished.
func (e *Engine) Aggregate(ctx context.Context, userID string, rng domain.DateRange) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, ErrUserRequired
	}
	started := time.Now()
	now := e.now()

	var (
		crops       []domain.Crop
		taskStats   domain.TaskStats
		water       domain.WaterStats
		fertilizer  domain.FertilizerStats
		yield       domain.YieldStats
		pestDisease domain.PestDiseaseStats
	)
	g, gctx := errgroup.WithContext(ctx)
	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				// Siblings cancelled by an earlier failure are not failures themselves.
				if !errors.Is(err, context.Canceled) || gctx.Err() == nil {
					queryFailures.WithLabelValues(name).Inc()
				}
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	run("crops", func(ctx context.Context) (err error) {
		crops, err = e.Crops.FindCropsByUser(ctx, userID)
		return err
	})
	run("tasks", func(ctx context.Context) (err error) {
		taskStats, err = e.Tasks.TaskStats(ctx, userID, now)
		return err
	})
	run("water", func(ctx context.Context) (err error) {
		water, err = e.Activities.WaterUsageStats(ctx, userID, rng)
		return err
	})
	run("fertilizer", func(ctx context.Context) (err error) {
		fertilizer, err = e.Activities.FertilizerUsageStats(ctx, userID, rng)
		return err
	})
	run("yield", func(ctx context.Context) (err error) {
		yield, err = e.Activities.YieldStats(ctx, userID, rng)
		return err
	})
	run("pest_disease", func(ctx context.Context) (err error) {
		pestDisease, err = e.Activities.PestDiseaseStats(ctx, userID, rng)
		return err
	})
	if err := g.Wait(); err != nil {
		aggregateDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return Result{}, err
	}
	aggregateDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())

	if pestDisease.BySeverity == nil {
		pestDisease.BySeverity = map[string]int{}
	}
	return Result{
		Dashboard:   Summarize(crops, taskStats, water, yield),
		Water:       water,
		Fertilizer:  fertilizer,
		Yield:       yield,
		PestDisease: pestDisease,
		Crops:       Project(crops),
	}, nil
}

// Summarize derives the dashboard counters from already computed bundles.
func Summarize(crops []domain.Crop, tasks domain.TaskStats, water domain.WaterStats, yield domain.YieldStats) Dashboard {
	return Dashboard{
		TotalCrops:     len(crops),
		ActiveTasks:    tasks.Pending,
		OverdueTasks:   tasks.Overdue,
		RecentHarvests: yield.HarvestCount,
		TotalYield:     yield.TotalYield,
		WaterUsage:     water.TotalWater,
	}
}

// Project reduces crops to the fields safe to expose in analytics.
func Project(crops []domain.Crop) []CropSummary {
	res := make([]CropSummary, 0, len(crops))
	for _, c := range crops {
		res = append(res, CropSummary{
			ID:                  c.ID,
			Name:                c.Name,
			Status:              c.Status,
			PlantingDate:        c.PlantingDate,
			ExpectedHarvestDate: c.ExpectedHarvestDate,
		})
	}
	return res
}
