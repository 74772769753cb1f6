package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"farmline/internal/analytics"
	"farmline/internal/domain"
	"farmline/internal/events"
	"farmline/internal/repo"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Aggregator *analytics.Engine
	Now        func() time.Time
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{},
		Aggregator: analytics.New(r, r, r),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError reports input rejected before anything was written.
type ValidationError struct {
	Details string
}

func (e ValidationError) Error() string {
	return "invalid input: " + e.Details
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cropstatus", func(fl validator.FieldLevel) bool {
		return domain.CropStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("activitykind", func(fl validator.FieldLevel) bool {
		return domain.ActivityKind(fl.Field().String()).Valid()
	})
	return v
}

func checkStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		parts = append(parts, lowerFirst(fe.Field())+": "+reason)
	}
	return ValidationError{Details: strings.Join(parts, "; ")}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateUser registers a user that can then be issued session tokens.
func (e Engine) CreateUser(ctx context.Context, email, username string) (domain.User, error) {
	in := struct {
		Email    string `validate:"required,email"`
		Username string `validate:"required,min=2,max=64"`
	}{strings.TrimSpace(email), strings.TrimSpace(username)}
	if err := checkStruct(in); err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Email:     in.Email,
		Username:  in.Username,
		CreatedAt: e.now().UTC(),
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return e.Events.Append(ctx, tx, "user.create", u.ID, "user", u.ID, events.Payload{"username": u.Username})
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CropCreateOptions are parameters for creating a crop.
type CropCreateOptions struct {
	UserID              string            `validate:"required"`
	Name                string            `validate:"required,max=100"`
	Variety             string            `validate:"max=100"`
	Status              domain.CropStatus `validate:"omitempty,cropstatus"`
	PlantingDate        time.Time         `validate:"required"`
	ExpectedHarvestDate time.Time         `validate:"required,gtfield=PlantingDate"`
	Area                float64           `validate:"gte=0"`
}

func (e Engine) CreateCrop(ctx context.Context, opts CropCreateOptions) (domain.Crop, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if err := checkStruct(opts); err != nil {
		return domain.Crop{}, err
	}
	if opts.Status == "" {
		opts.Status = domain.CropPlanned
	}
	now := e.now().UTC()
	c := domain.Crop{
		ID:                  uuid.NewString(),
		UserID:              opts.UserID,
		Name:                opts.Name,
		Variety:             strings.TrimSpace(opts.Variety),
		Status:              opts.Status,
		PlantingDate:        opts.PlantingDate.UTC(),
		ExpectedHarvestDate: opts.ExpectedHarvestDate.UTC(),
		Area:                opts.Area,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCrop(ctx, tx, c); err != nil {
			return fmt.Errorf("insert crop: %w", err)
		}
		return e.Events.Append(ctx, tx, "crop.create", c.UserID, "crop", c.ID, events.Payload{"name": c.Name, "status": c.Status})
	})
	if err != nil {
		return domain.Crop{}, err
	}
	return c, nil
}

func (e Engine) UpdateCropStatus(ctx context.Context, userID, cropID string, status domain.CropStatus) (domain.Crop, error) {
	if !status.Valid() {
		return domain.Crop{}, ValidationError{Details: "status: cropstatus"}
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateCropStatus(ctx, tx, userID, cropID, status, e.now()); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "crop.status", userID, "crop", cropID, events.Payload{"status": status})
	})
	if err != nil {
		return domain.Crop{}, err
	}
	return e.Repo.GetCrop(ctx, userID, cropID)
}

func (e Engine) ListCrops(ctx context.Context, userID string) ([]domain.Crop, error) {
	return e.Repo.FindCropsByUser(ctx, userID)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	UserID      string    `validate:"required"`
	CropID      string    `validate:"omitempty"`
	Title       string    `validate:"required,max=200"`
	Description string    `validate:"max=2000"`
	DueDate     time.Time `validate:"required"`
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if err := checkStruct(opts); err != nil {
		return domain.Task{}, err
	}
	if err := e.ensureCrop(ctx, opts.UserID, opts.CropID); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          uuid.NewString(),
		UserID:      opts.UserID,
		Title:       opts.Title,
		Description: opts.Description,
		DueDate:     opts.DueDate.UTC(),
		CreatedAt:   e.now().UTC(),
	}
	if opts.CropID != "" {
		cropID := opts.CropID
		t.CropID = &cropID
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return e.Events.Append(ctx, tx, "task.create", t.UserID, "task", t.ID, events.Payload{"title": t.Title})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) CompleteTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.CompleteTask(ctx, tx, userID, taskID, e.now()); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.complete", userID, "task", taskID, nil)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, userID, taskID)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// ActivityRecordOptions are parameters for recording a farming activity.
// OccurredAt defaults to now.
type ActivityRecordOptions struct {
	UserID      string              `validate:"required"`
	CropID      string              `validate:"required"`
	Kind        domain.ActivityKind `validate:"required,activitykind"`
	OccurredAt  time.Time
	Quantity    float64 `validate:"gte=0"`
	Unit        string  `validate:"max=20"`
	Severity    string  `validate:"omitempty,oneof=low medium high"`
	Description string  `validate:"max=2000"`
}

func (e Engine) RecordActivity(ctx context.Context, opts ActivityRecordOptions) (domain.Activity, error) {
	if err := checkStruct(opts); err != nil {
		return domain.Activity{}, err
	}
	if opts.Kind != domain.ActivityPestDisease && opts.Quantity <= 0 {
		return domain.Activity{}, ValidationError{Details: "quantity: gt=0"}
	}
	if err := e.ensureCrop(ctx, opts.UserID, opts.CropID); err != nil {
		return domain.Activity{}, err
	}
	now := e.now().UTC()
	if opts.OccurredAt.IsZero() {
		opts.OccurredAt = now
	}
	a := domain.Activity{
		ID:          uuid.NewString(),
		UserID:      opts.UserID,
		CropID:      opts.CropID,
		Kind:        opts.Kind,
		OccurredAt:  opts.OccurredAt.UTC(),
		Quantity:    opts.Quantity,
		Unit:        opts.Unit,
		Severity:    opts.Severity,
		Description: opts.Description,
		CreatedAt:   now,
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertActivity(ctx, tx, a); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		return e.Events.Append(ctx, tx, "activity.record", a.UserID, "activity", a.ID, events.Payload{
			"kind":     a.Kind,
			"crop_id":  a.CropID,
			"quantity": a.Quantity,
		})
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

func (e Engine) ListActivities(ctx context.Context, userID string, kind domain.ActivityKind, rng domain.DateRange) ([]domain.Activity, error) {
	if kind != "" && !kind.Valid() {
		return nil, ValidationError{Details: "kind: activitykind"}
	}
	return e.Repo.ListActivities(ctx, userID, kind, rng)
}

// Analytics aggregates the dashboard for userID over rng.
func (e Engine) Analytics(ctx context.Context, userID string, rng domain.DateRange) (analytics.Result, error) {
	return e.Aggregator.Aggregate(ctx, userID, rng)
}

// ensureCrop rejects references to crops the user does not own.
func (e Engine) ensureCrop(ctx context.Context, userID, cropID string) error {
	if cropID == "" {
		return nil
	}
	if _, err := e.Repo.GetCrop(ctx, userID, cropID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ValidationError{Details: "cropId: unknown crop"}
		}
		return err
	}
	return nil
}
