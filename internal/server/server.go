package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"farmline/internal/auth"
	"farmline/internal/domain"
	"farmline/internal/engine"
	"farmline/internal/repo"
	"farmline/internal/report"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
	// Now stamps response envelopes. Defaults to time.Now.
	Now func() time.Time
}

type api struct {
	engine engine.Engine
	auth   AuthConfig
	log    *zap.Logger
	asm    report.Assembler
}

// New returns an HTTP handler exposing the farm management API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &api{
		engine: cfg.Engine,
		auth:   cfg.Auth,
		log:    logger,
		asm:    report.Assembler{Now: cfg.Now},
	}

	huma.DefaultArrayNullable = false
	// Route huma's own errors (bad bodies, schema violations) into the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return a.humaError(status, msg, errs...)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return a.humaError(status, msg, errs...)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(instrument(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth.authenticator(), basePath+"/health", basePath+"/auth/dev/login"))

	hcfg := huma.DefaultConfig("Farmline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	hcfg.SchemasPath = ""
	// No $schema links in bodies; responses carry exactly the envelope fields.
	hcfg.CreateHooks = nil
	hapi := humachi.New(router, hcfg)
	group := huma.NewGroup(hapi, basePath)

	router.Handle("/metrics", promhttp.Handler())
	registerDocs(router)
	registerOpenAPI(router, hapi)
	registerHealth(group)
	a.registerAnalytics(group)
	a.registerCrops(group)
	a.registerTasks(group)
	a.registerActivities(group)
	a.registerMe(group)
	if cfg.Auth.DevLogin && cfg.Auth.Tokens != nil {
		a.registerDevAuth(group)
	}
	return router, nil
}

func (a *api) humaError(status int, msg string, errs ...error) huma.StatusError {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		details := make([]string, 0, len(errs))
		for _, err := range errs {
			if err != nil {
				details = append(details, err.Error())
			}
		}
		if len(details) == 0 {
			details = append(details, msg)
		}
		return a.asm.Invalid(strings.Join(details, "; "))
	case status >= http.StatusInternalServerError:
		a.log.Error("unhandled api error", zap.String("message", msg), zap.Errors("errors", errs))
		return a.asm.Internal()
	default:
		return a.asm.Fail(status, msg, "")
	}
}

// failure maps an engine error onto an envelope. Unexpected errors are logged
// and replaced with the generic internal error.
func (a *api) failure(ctx context.Context, op string, err error) huma.StatusError {
	var ve engine.ValidationError
	switch {
	case errors.As(err, &ve):
		return a.asm.Invalid(ve.Details)
	case errors.Is(err, repo.ErrNotFound):
		return a.asm.NotFound("Not found")
	}
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if p, ok := auth.FromContext(ctx); ok {
		fields = append(fields, zap.String("user_id", p.UserID))
	}
	a.log.Error("request failed", fields...)
	return a.asm.Internal()
}

func principal(ctx context.Context) (auth.Principal, huma.StatusError) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Principal{}, unauthorizedError()
	}
	return p, nil
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML)
	})
}

func registerOpenAPI(r chi.Router, hapi huma.API) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := hapi.OpenAPI()
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["sessionCookie"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "cookie",
		Name: auth.DefaultCookieName,
	}
	oas.Security = []map[string][]string{
		{"bearerAuth": {}},
		{"sessionCookie": {}},
	}
	for route, item := range oas.Paths {
		if !strings.HasSuffix(route, "/health") && !strings.HasSuffix(route, "/auth/dev/login") {
			continue
		}
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op != nil {
				op.Security = []map[string][]string{}
			}
		}
	}
}

const swaggerHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Farmline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: '/openapi.json', dom_id: '#swagger-ui' });
      };
    </script>
  </body>
</html>`

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string
	}, error) {
		return &struct {
			Body map[string]string
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (a *api) registerAnalytics(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-analytics",
		Method:      http.MethodGet,
		Path:        "/analytics",
		Summary:     "Dashboard analytics",
		Description: "Aggregates crops, task counters and activity statistics for the caller. " +
			"An endDate before startDate yields empty activity statistics.",
		Errors: []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *RangeQuery) (*analyticsOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rng := dateRange(input.StartDate, input.EndDate)
		if rng.Inverted() {
			a.log.Debug("inverted analytics range", zap.String("user_id", p.UserID),
				zap.Time("start", *rng.Start), zap.Time("end", *rng.End))
		}
		res, err := a.engine.Analytics(ctx, p.UserID, rng)
		if err != nil {
			a.log.Error("fetch analytics", zap.String("user_id", p.UserID), zap.Error(err))
			return nil, a.asm.Internal()
		}
		return &analyticsOutput{Body: report.OK(a.asm, res)}, nil
	})
}

func (a *api) registerCrops(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-crops",
		Method:      http.MethodGet,
		Path:        "/crops",
		Summary:     "List crops",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*cropsOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		crops, err := a.engine.ListCrops(ctx, p.UserID)
		if err != nil {
			return nil, a.failure(ctx, "list crops", err)
		}
		return &cropsOutput{Body: report.OK(a.asm, crops)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-crop",
		Method:        http.MethodPost,
		Path:          "/crops",
		Summary:       "Create crop",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateCropRequest
	}) (*cropOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		planting, err := parseRequired("plantingDate", input.Body.PlantingDate)
		if err != nil {
			return nil, a.failure(ctx, "create crop", err)
		}
		harvest, err := parseRequired("expectedHarvestDate", input.Body.ExpectedHarvestDate)
		if err != nil {
			return nil, a.failure(ctx, "create crop", err)
		}
		crop, err := a.engine.CreateCrop(ctx, engine.CropCreateOptions{
			UserID:              p.UserID,
			Name:                input.Body.Name,
			Variety:             input.Body.Variety,
			Status:              domain.CropStatus(input.Body.Status),
			PlantingDate:        planting,
			ExpectedHarvestDate: harvest,
			Area:                input.Body.Area,
		})
		if err != nil {
			return nil, a.failure(ctx, "create crop", err)
		}
		return &cropOutput{Body: report.OK(a.asm, crop)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-crop-status",
		Method:      http.MethodPatch,
		Path:        "/crops/{crop_id}/status",
		Summary:     "Update crop status",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CropPath
		Body UpdateCropStatusRequest
	}) (*cropOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		crop, err := a.engine.UpdateCropStatus(ctx, p.UserID, input.CropID, domain.CropStatus(input.Body.Status))
		if err != nil {
			return nil, a.failure(ctx, "update crop status", err)
		}
		return &cropOutput{Body: report.OK(a.asm, crop)}, nil
	})
}

func (a *api) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CropID  string `query:"cropId"`
		Pending bool   `query:"pending"`
		Limit   int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*tasksOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := a.engine.ListTasks(ctx, repo.TaskFilters{
			UserID:      p.UserID,
			CropID:      input.CropID,
			OnlyPending: input.Pending,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, a.failure(ctx, "list tasks", err)
		}
		return &tasksOutput{Body: report.OK(a.asm, tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*taskOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		due, err := parseRequired("dueDate", input.Body.DueDate)
		if err != nil {
			return nil, a.failure(ctx, "create task", err)
		}
		task, err := a.engine.CreateTask(ctx, engine.TaskCreateOptions{
			UserID:      p.UserID,
			CropID:      input.Body.CropID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			DueDate:     due,
		})
		if err != nil {
			return nil, a.failure(ctx, "create task", err)
		}
		return &taskOutput{Body: report.OK(a.asm, task)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *TaskPath) (*taskOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := a.engine.CompleteTask(ctx, p.UserID, input.TaskID)
		if err != nil {
			return nil, a.failure(ctx, "complete task", err)
		}
		return &taskOutput{Body: report.OK(a.asm, task)}, nil
	})
}

func (a *api) registerActivities(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List activities",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		RangeQuery
		Kind string `query:"kind" enum:"WATERING,FERTILIZING,HARVEST,PEST_DISEASE"`
	}) (*activitiesOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := a.engine.ListActivities(ctx, p.UserID, domain.ActivityKind(input.Kind), dateRange(input.StartDate, input.EndDate))
		if err != nil {
			return nil, a.failure(ctx, "list activities", err)
		}
		return &activitiesOutput{Body: report.OK(a.asm, items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Record activity",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body RecordActivityRequest
	}) (*activityOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var occurred time.Time
		if strings.TrimSpace(input.Body.OccurredAt) != "" {
			t, err := parseRequired("occurredAt", input.Body.OccurredAt)
			if err != nil {
				return nil, a.failure(ctx, "record activity", err)
			}
			occurred = t
		}
		act, err := a.engine.RecordActivity(ctx, engine.ActivityRecordOptions{
			UserID:      p.UserID,
			CropID:      input.Body.CropID,
			Kind:        domain.ActivityKind(input.Body.Kind),
			OccurredAt:  occurred,
			Quantity:    input.Body.Quantity,
			Unit:        input.Body.Unit,
			Severity:    input.Body.Severity,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, a.failure(ctx, "record activity", err)
		}
		return &activityOutput{Body: report.OK(a.asm, act)}, nil
	})
}

func (a *api) registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*meOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &meOutput{Body: report.OK(a.asm, p)}, nil
	})
}

func (a *api) registerDevAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a session for an existing user",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*devLoginOutput, error) {
		email := strings.TrimSpace(input.Body.Email)
		if email == "" {
			return nil, a.asm.Invalid("email: required")
		}
		u, err := a.engine.Repo.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, a.failure(ctx, "dev login", err)
		}
		tokens := *a.auth.Tokens
		token, err := tokens.Issue(auth.Principal{UserID: u.ID, Email: u.Email, Username: u.Username})
		if err != nil {
			return nil, a.failure(ctx, "dev login", err)
		}
		return &devLoginOutput{
			SetCookie: http.Cookie{
				Name:     tokens.CookieName,
				Value:    token,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(tokens.TTL.Seconds()),
			},
			Body: report.OK(a.asm, DevLoginResponse{Token: token}),
		}, nil
	})
}

// dateRange builds optional bounds from query values. Absent or unparsable
// values mean no bound.
func dateRange(start, end string) domain.DateRange {
	var rng domain.DateRange
	if t, ok := domain.ParseInstant(start); ok {
		rng.Start = &t
	}
	if t, ok := domain.ParseInstant(end); ok {
		rng.End = &t
	}
	return rng
}

func parseRequired(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, engine.ValidationError{Details: field + ": required"}
	}
	t, ok := domain.ParseInstant(s)
	if !ok {
		return time.Time{}, engine.ValidationError{Details: fmt.Sprintf("%s: invalid date %q", field, s)}
	}
	return t, nil
}
