package farmlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Farmline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/api",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Dashboard struct {
	TotalCrops     int     `json:"totalCrops"`
	ActiveTasks    int     `json:"activeTasks"`
	OverdueTasks   int     `json:"overdueTasks"`
	RecentHarvests int     `json:"recentHarvests"`
	TotalYield     float64 `json:"totalYield"`
	WaterUsage     float64 `json:"waterUsage"`
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

// CropSummary is the reduced crop shape returned inside analytics.
type CropSummary struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Status              string    `json:"status"`
	PlantingDate        time.Time `json:"plantingDate"`
	ExpectedHarvestDate time.Time `json:"expectedHarvestDate"`
}

// Analytics is the payload of GET /analytics.
type Analytics struct {
	Dashboard   Dashboard        `json:"dashboard"`
	Water       WaterStats       `json:"water"`
	Fertilizer  FertilizerStats  `json:"fertilizer"`
	Yield       YieldStats       `json:"yield"`
	PestDisease PestDiseaseStats `json:"pestDisease"`
	Crops       []CropSummary    `json:"crops"`
}

// Crop represents the API crop model.
type Crop struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	Name                string    `json:"name"`
	Variety             string    `json:"variety,omitempty"`
	Status              string    `json:"status"`
	PlantingDate        time.Time `json:"plantingDate"`
	ExpectedHarvestDate time.Time `json:"expectedHarvestDate"`
	Area                float64   `json:"area"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// NewCrop is the create-crop request. Dates are RFC 3339 instants or
// YYYY-MM-DD.
type NewCrop struct {
	Name                string  `json:"name"`
	Variety             string  `json:"variety,omitempty"`
	Status              string  `json:"status,omitempty"`
	PlantingDate        string  `json:"plantingDate"`
	ExpectedHarvestDate string  `json:"expectedHarvestDate"`
	Area                float64 `json:"area,omitempty"`
}

// APIError wraps non-2xx responses. Message and Details are taken from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api error: status=%d error=%s details=%s", e.StatusCode, e.Message, e.Details)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d error=%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type envelope[T any] struct {
	Success   bool   `json:"success"`
	Data      T      `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Analytics fetches dashboard analytics. Zero start or end leaves that bound
// open.
func (c *Client) Analytics(ctx context.Context, start, end time.Time) (Analytics, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("startDate", start.UTC().Format(time.RFC3339Nano))
	}
	if !end.IsZero() {
		q.Set("endDate", end.UTC().Format(time.RFC3339Nano))
	}
	endpoint := "analytics"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp envelope[Analytics]
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Data, err
}

// ListCrops returns the caller's crops, newest first.
func (c *Client) ListCrops(ctx context.Context) ([]Crop, error) {
	var resp envelope[[]Crop]
	err := c.do(ctx, http.MethodGet, "crops", nil, &resp)
	return resp.Data, err
}

// CreateCrop creates a crop.
func (c *Client) CreateCrop(ctx context.Context, in NewCrop) (Crop, error) {
	var resp envelope[Crop]
	err := c.do(ctx, http.MethodPost, "crops", in, &resp)
	return resp.Data, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var failure struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(b, &failure) == nil {
			apiErr.Message = failure.Error
			apiErr.Details = failure.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
