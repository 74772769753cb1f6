package server

import (
	"net/http"

	"farmline/internal/analytics"
	"farmline/internal/auth"
	"farmline/internal/domain"
	"farmline/internal/report"
)

// Request payloads

type CreateCropRequest struct {
	Name                string  `json:"name" maxLength:"100"`
	Variety             string  `json:"variety,omitempty"`
	Status              string  `json:"status,omitempty" enum:"PLANNED,PLANTED,GROWING,HARVESTED,FAILED"`
	PlantingDate        string  `json:"plantingDate" doc:"RFC 3339 instant or YYYY-MM-DD"`
	ExpectedHarvestDate string  `json:"expectedHarvestDate" doc:"RFC 3339 instant or YYYY-MM-DD"`
	Area                float64 `json:"area,omitempty" minimum:"0"`
}

type UpdateCropStatusRequest struct {
	Status string `json:"status" enum:"PLANNED,PLANTED,GROWING,HARVESTED,FAILED"`
}

type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"dueDate" doc:"RFC 3339 instant or YYYY-MM-DD"`
	CropID      string `json:"cropId,omitempty"`
}

type RecordActivityRequest struct {
	CropID      string  `json:"cropId"`
	Kind        string  `json:"kind" enum:"WATERING,FERTILIZING,HARVEST,PEST_DISEASE"`
	OccurredAt  string  `json:"occurredAt,omitempty" doc:"RFC 3339 instant or YYYY-MM-DD; defaults to now"`
	Quantity    float64 `json:"quantity,omitempty" minimum:"0"`
	Unit        string  `json:"unit,omitempty"`
	Severity    string  `json:"severity,omitempty" enum:"low,medium,high"`
	Description string  `json:"description,omitempty"`
}

type DevLoginRequest struct {
	Email string `json:"email"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Query inputs

type RangeQuery struct {
	StartDate string `query:"startDate" doc:"Inclusive lower bound; unparsable values are ignored"`
	EndDate   string `query:"endDate" doc:"Inclusive upper bound; unparsable values are ignored"`
}

type CropPath struct {
	CropID string `path:"crop_id"`
}

type TaskPath struct {
	TaskID string `path:"task_id"`
}

// Responses

type analyticsOutput struct {
	Body report.Success[analytics.Result]
}

type cropsOutput struct {
	Body report.Success[[]domain.Crop]
}

type cropOutput struct {
	Body report.Success[domain.Crop]
}

type tasksOutput struct {
	Body report.Success[[]domain.Task]
}

type taskOutput struct {
	Body report.Success[domain.Task]
}

type activitiesOutput struct {
	Body report.Success[[]domain.Activity]
}

type activityOutput struct {
	Body report.Success[domain.Activity]
}

type meOutput struct {
	Body report.Success[auth.Principal]
}

type devLoginOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      report.Success[DevLoginResponse]
}
