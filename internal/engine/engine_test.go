package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmline/internal/db"
	"farmline/internal/domain"
	"farmline/internal/engine"
	"farmline/internal/migrate"
	"farmline/internal/repo"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	User   domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")
	eng := engine.New(conn)
	eng.Now = func() time.Time { return fixedNow }
	eng.Events.Now = eng.Now
	eng.Aggregator.Now = eng.Now
	ctx := context.Background()
	u, err := eng.CreateUser(ctx, "grower@farm.test", "grower")
	require.NoError(t, err, "create user")
	return testEnv{Engine: eng, Ctx: ctx, User: u}
}

func (env testEnv) crop(t *testing.T, name string) domain.Crop {
	t.Helper()
	c, err := env.Engine.CreateCrop(env.Ctx, engine.CropCreateOptions{
		UserID:              env.User.ID,
		Name:                name,
		PlantingDate:        fixedNow.AddDate(0, -1, 0),
		ExpectedHarvestDate: fixedNow.AddDate(0, 2, 0),
		Area:                1.5,
	})
	require.NoError(t, err, "create crop")
	return c
}

func validationDetails(t *testing.T, err error) string {
	t.Helper()
	var verr engine.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	return verr.Details
}

func TestCreateCropDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.crop(t, "  Maize  ")
	assert.Equal(t, "Maize", c.Name)
	assert.Equal(t, domain.CropPlanned, c.Status)
	assert.Equal(t, fixedNow, c.CreatedAt)

	_, err := env.Engine.CreateCrop(env.Ctx, engine.CropCreateOptions{
		UserID:              env.User.ID,
		Name:                "Backwards",
		PlantingDate:        fixedNow,
		ExpectedHarvestDate: fixedNow.AddDate(0, 0, -1),
	})
	assert.Contains(t, validationDetails(t, err), "expectedHarvestDate: gtfield=PlantingDate")

	_, err = env.Engine.CreateCrop(env.Ctx, engine.CropCreateOptions{
		UserID:              env.User.ID,
		Name:                "",
		Status:              "SPROUTING",
		PlantingDate:        fixedNow,
		ExpectedHarvestDate: fixedNow.AddDate(0, 1, 0),
		Area:                -1,
	})
	details := validationDetails(t, err)
	assert.Contains(t, details, "name: required")
	assert.Contains(t, details, "status: cropstatus")
	assert.Contains(t, details, "area: gte=0")

	crops, err := env.Engine.ListCrops(env.Ctx, env.User.ID)
	require.NoError(t, err)
	assert.Len(t, crops, 1)
}

func TestCreateUserRejectsBadEmail(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateUser(env.Ctx, "not-an-email", "x")
	details := validationDetails(t, err)
	assert.Contains(t, details, "email: email")
	assert.Contains(t, details, "username: min=2")
}

func TestCropStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := env.crop(t, "Beans")
	updated, err := env.Engine.UpdateCropStatus(env.Ctx, env.User.ID, c.ID, domain.CropGrowing)
	require.NoError(t, err)
	assert.Equal(t, domain.CropGrowing, updated.Status)

	_, err = env.Engine.UpdateCropStatus(env.Ctx, env.User.ID, c.ID, "WILTED")
	validationDetails(t, err)

	_, err = env.Engine.UpdateCropStatus(env.Ctx, "someone-else", c.ID, domain.CropFailed)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := env.crop(t, "Tomato")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:  env.User.ID,
		CropID:  c.ID,
		Title:   "Stake plants",
		DueDate: fixedNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, task.CropID)
	assert.False(t, task.Completed)

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:  env.User.ID,
		CropID:  "missing",
		Title:   "Orphan",
		DueDate: fixedNow,
	})
	assert.Equal(t, "cropId: unknown crop", validationDetails(t, err))

	done, err := env.Engine.CompleteTask(env.Ctx, env.User.ID, task.ID)
	require.NoError(t, err)
	assert.True(t, done.Completed)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, fixedNow, *done.CompletedAt)

	pending, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{UserID: env.User.ID, OnlyPending: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecordActivityRules(t *testing.T) {
	env := newTestEnv(t)
	c := env.crop(t, "Rice")

	a, err := env.Engine.RecordActivity(env.Ctx, engine.ActivityRecordOptions{
		UserID: env.User.ID, CropID: c.ID, Kind: domain.ActivityWatering, Quantity: 40, Unit: "l",
	})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, a.OccurredAt)

	_, err = env.Engine.RecordActivity(env.Ctx, engine.ActivityRecordOptions{
		UserID: env.User.ID, CropID: c.ID, Kind: domain.ActivityHarvest,
	})
	assert.Equal(t, "quantity: gt=0", validationDetails(t, err))

	_, err = env.Engine.RecordActivity(env.Ctx, engine.ActivityRecordOptions{
		UserID: env.User.ID, CropID: c.ID, Kind: domain.ActivityPestDisease, Severity: "high",
	})
	require.NoError(t, err)

	_, err = env.Engine.RecordActivity(env.Ctx, engine.ActivityRecordOptions{
		UserID: env.User.ID, CropID: c.ID, Kind: domain.ActivityPestDisease, Severity: "apocalyptic",
	})
	assert.Contains(t, validationDetails(t, err), "severity: oneof")

	_, err = env.Engine.RecordActivity(env.Ctx, engine.ActivityRecordOptions{
		UserID: env.User.ID, CropID: c.ID, Kind: "MOWING", Quantity: 1,
	})
	assert.Contains(t, validationDetails(t, err), "kind: activitykind")

	_, err = env.Engine.ListActivities(env.Ctx, env.User.ID, "MOWING", domain.DateRange{})
	validationDetails(t, err)

	all, err := env.Engine.ListActivities(env.Ctx, env.User.ID, "", domain.DateRange{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWritesAppendEvents(t *testing.T) {
	env := newTestEnv(t)
	c := env.crop(t, "Oats")
	_, err := env.Engine.RecordActivity(env.Ctx, engine.ActivityRecordOptions{
		UserID: env.User.ID, CropID: c.ID, Kind: domain.ActivityFertilizing, Quantity: 3,
	})
	require.NoError(t, err)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, env.User.ID, 10)
	require.NoError(t, err)
	types := make([]string, 0, len(evts))
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"activity.record", "crop.create", "user.create"}, types)
}

func TestAnalyticsOverStoredRecords(t *testing.T) {
	env := newTestEnv(t)
	c := env.crop(t, "Barley")
	record := func(kind domain.ActivityKind, daysAgo int, qty float64) {
		t.Helper()
		_, err := env.Engine.RecordActivity(env.Ctx, engine.ActivityRecordOptions{
			UserID: env.User.ID, CropID: c.ID, Kind: kind, Quantity: qty,
			OccurredAt: fixedNow.AddDate(0, 0, -daysAgo),
		})
		require.NoError(t, err)
	}
	record(domain.ActivityWatering, 10, 100)
	record(domain.ActivityWatering, 2, 60)
	record(domain.ActivityHarvest, 1, 25)
	record(domain.ActivityHarvest, 20, 15)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID: env.User.ID, Title: "Late", DueDate: fixedNow.Add(-time.Minute),
	})
	require.NoError(t, err)

	res, err := env.Engine.Analytics(env.Ctx, env.User.ID, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dashboard.TotalCrops)
	assert.Equal(t, 1, res.Dashboard.ActiveTasks)
	assert.Equal(t, 1, res.Dashboard.OverdueTasks)
	assert.Equal(t, 2, res.Dashboard.RecentHarvests)
	assert.Equal(t, 40.0, res.Dashboard.TotalYield)
	assert.Equal(t, 160.0, res.Dashboard.WaterUsage)

	start := fixedNow.AddDate(0, 0, -5)
	windowed, err := env.Engine.Analytics(env.Ctx, env.User.ID, domain.DateRange{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, 60.0, windowed.Water.TotalWater)
	assert.Equal(t, 1, windowed.Yield.HarvestCount)
	assert.Equal(t, 1, windowed.Dashboard.TotalCrops, "crop count ignores the window")

	other, err := env.Engine.CreateUser(env.Ctx, "neighbour@farm.test", "neighbour")
	require.NoError(t, err)
	empty, err := env.Engine.Analytics(env.Ctx, other.ID, domain.DateRange{})
	require.NoError(t, err)
	assert.Zero(t, empty.Dashboard)
	assert.Empty(t, empty.Crops)
}
