package domain

import (
	"strings"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type CropStatus string

const (
	CropPlanned   CropStatus = "PLANNED"
	CropPlanted   CropStatus = "PLANTED"
	CropGrowing   CropStatus = "GROWING"
	CropHarvested CropStatus = "HARVESTED"
	CropFailed    CropStatus = "FAILED"
)

// Valid reports whether s is a known lifecycle state.
func (s CropStatus) Valid() bool {
	switch s {
	case CropPlanned, CropPlanted, CropGrowing, CropHarvested, CropFailed:
		return true
	}
	return false
}

type Crop struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	Name                string     `json:"name"`
	Variety             string     `json:"variety,omitempty"`
	Status              CropStatus `json:"status" enum:"PLANNED,PLANTED,GROWING,HARVESTED,FAILED"`
	PlantingDate        time.Time  `json:"plantingDate"`
	ExpectedHarvestDate time.Time  `json:"expectedHarvestDate"`
	Area                float64    `json:"area"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	CropID      *string    `json:"cropId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     time.Time  `json:"dueDate"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type ActivityKind string

const (
	ActivityWatering    ActivityKind = "WATERING"
	ActivityFertilizing ActivityKind = "FERTILIZING"
	ActivityHarvest     ActivityKind = "HARVEST"
	ActivityPestDisease ActivityKind = "PEST_DISEASE"
)

func (k ActivityKind) Valid() bool {
	switch k {
	case ActivityWatering, ActivityFertilizing, ActivityHarvest, ActivityPestDisease:
		return true
	}
	return false
}

// Activity is a single farming event. Quantity is litres for watering,
// kilograms for fertilizing and the yield amount for harvests; pest and
// disease observations carry Severity instead.
type Activity struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	CropID      string       `json:"cropId"`
	Kind        ActivityKind `json:"kind" enum:"WATERING,FERTILIZING,HARVEST,PEST_DISEASE"`
	OccurredAt  time.Time    `json:"occurredAt"`
	Quantity    float64      `json:"quantity"`
	Unit        string       `json:"unit,omitempty"`
	Severity    string       `json:"severity,omitempty"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"userId"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId,omitempty"`
	Payload    string `json:"payloadJson"`
}

type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
}

type WaterStats struct {
	TotalWater      float64 `json:"totalWater"`
	Count           int     `json:"count"`
	AveragePerEvent float64 `json:"averagePerEvent"`
}

type FertilizerStats struct {
	TotalFertilizer float64 `json:"totalFertilizer"`
	Count           int     `json:"count"`
	AveragePerEvent float64 `json:"averagePerEvent"`
}

type YieldStats struct {
	HarvestCount int     `json:"harvestCount"`
	TotalYield   float64 `json:"totalYield"`
	AverageYield float64 `json:"averageYield"`
}

type PestDiseaseStats struct {
	Count      int            `json:"count"`
	BySeverity map[string]int `json:"bySeverity"`
}

// DateRange bounds activity queries. Both ends are optional and inclusive.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Inverted reports whether both bounds are set and End precedes Start. An
// inverted range matches nothing.
func (r DateRange) Inverted() bool {
	return r.Start != nil && r.End != nil && r.End.Before(*r.Start)
}

// instantLayouts are the ISO 8601 forms accepted for range bounds, tried in
// order. Forms without an offset are read as UTC.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseInstant accepts ISO 8601 instants, calendar dates, year-months and
// years. A date without a time is midnight UTC of its first day.
func ParseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
