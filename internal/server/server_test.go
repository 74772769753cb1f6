package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"farmline/internal/analytics"
	"farmline/internal/auth"
	"farmline/internal/db"
	"farmline/internal/domain"
	"farmline/internal/engine"
	"farmline/internal/migrate"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	User   domain.User
	Token  string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.Token}
}

// newTestServer serves a fresh workspace with one registered user. mutate may
// swap engine collaborators before the handler is built.
func newTestServer(t *testing.T, mutate func(*engine.Engine)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	e.Now = func() time.Time { return testNow }
	e.Aggregator.Now = e.Now
	u, err := e.CreateUser(context.Background(), "grower@farm.test", "grower")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if mutate != nil {
		mutate(&e)
	}
	tokens, err := auth.NewTokenAuthenticator("test-secret", time.Hour, "")
	if err != nil {
		t.Fatalf("token authenticator: %v", err)
	}
	token, err := tokens.Issue(auth.Principal{UserID: u.ID, Email: u.Email, Username: u.Username})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{Tokens: &tokens, DevLogin: true},
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		User:   u,
		Token:  token,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func keysOf(t *testing.T, data []byte) []string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m), string(data))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type analyticsEnvelope struct {
	Success   bool             `json:"success"`
	Data      analytics.Result `json:"data"`
	Timestamp string           `json:"timestamp"`
}

func getAnalytics(t *testing.T, srv *testServer, query string) analyticsEnvelope {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics"+query, nil, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var env analyticsEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// stubStore counts every store call and fails the queries named in fail.
type stubStore struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (s *stubStore) err(name string) error {
	s.calls.Add(1)
	if s.fail[name] {
		return errors.New("database is locked")
	}
	return nil
}

func (s *stubStore) FindCropsByUser(context.Context, string) ([]domain.Crop, error) {
	return []domain.Crop{}, s.err("crops")
}

func (s *stubStore) TaskStats(context.Context, string, time.Time) (domain.TaskStats, error) {
	return domain.TaskStats{}, s.err("tasks")
}

func (s *stubStore) WaterUsageStats(context.Context, string, domain.DateRange) (domain.WaterStats, error) {
	return domain.WaterStats{}, s.err("water")
}

func (s *stubStore) FertilizerUsageStats(context.Context, string, domain.DateRange) (domain.FertilizerStats, error) {
	return domain.FertilizerStats{}, s.err("fertilizer")
}

func (s *stubStore) YieldStats(context.Context, string, domain.DateRange) (domain.YieldStats, error) {
	return domain.YieldStats{}, s.err("yield")
}

func (s *stubStore) PestDiseaseStats(context.Context, string, domain.DateRange) (domain.PestDiseaseStats, error) {
	return domain.PestDiseaseStats{}, s.err("pest_disease")
}

func withStub(stub *stubStore) func(*engine.Engine) {
	return func(e *engine.Engine) {
		e.Aggregator = analytics.New(stub, stub, stub)
	}
}

func seedFarm(t *testing.T, srv *testServer) domain.Crop {
	t.Helper()
	ctx := context.Background()
	crop, err := srv.Engine.CreateCrop(ctx, engine.CropCreateOptions{
		UserID:              srv.User.ID,
		Name:                "Wheat",
		Variety:             "Durum",
		Status:              domain.CropGrowing,
		PlantingDate:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ExpectedHarvestDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		Area:                12.5,
	})
	require.NoError(t, err)
	record := func(kind domain.ActivityKind, at time.Time, qty float64, severity string) {
		t.Helper()
		_, err := srv.Engine.RecordActivity(ctx, engine.ActivityRecordOptions{
			UserID: srv.User.ID, CropID: crop.ID, Kind: kind, OccurredAt: at, Quantity: qty, Severity: severity,
		})
		require.NoError(t, err)
	}
	record(domain.ActivityWatering, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), 200, "")
	record(domain.ActivityWatering, time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC), 100, "")
	record(domain.ActivityFertilizing, time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC), 5, "")
	record(domain.ActivityHarvest, time.Date(2024, 4, 20, 8, 0, 0, 0, time.UTC), 80, "")
	record(domain.ActivityPestDisease, time.Date(2024, 4, 21, 8, 0, 0, 0, time.UTC), 0, "medium")
	_, err = srv.Engine.CreateTask(ctx, engine.TaskCreateOptions{
		UserID: srv.User.ID, CropID: crop.ID, Title: "Scout field", DueDate: testNow.Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = srv.Engine.CreateTask(ctx, engine.TaskCreateOptions{
		UserID: srv.User.ID, Title: "Order seed", DueDate: testNow.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	return crop
}

func TestAnalyticsRejectsMissingSessionBeforeQuerying(t *testing.T) {
	stub := &stubStore{}
	srv := newTestServer(t, withStub(stub))

	for name, headers := range map[string]map[string]string{
		"no credentials": nil,
		"bad token":      {"Authorization": "Bearer nope"},
		"bad cookie":     {"Cookie": auth.DefaultCookieName + "=nope"},
	} {
		t.Run(name, func(t *testing.T) {
			res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics", nil, headers)
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, string(data))
		})
	}
	assert.Zero(t, stub.calls.Load())
}

func TestAnalyticsEnvelopeShape(t *testing.T) {
	srv := newTestServer(t, nil)
	seedFarm(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics", nil, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, []string{"data", "success", "timestamp"}, keysOf(t, data))

	var env struct {
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.True(t, env.Success)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", env.Timestamp)
	assert.Equal(t, []string{"crops", "dashboard", "fertilizer", "pestDisease", "water", "yield"}, keysOf(t, env.Data))

	var payload struct {
		Crops []json.RawMessage `json:"crops"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Len(t, payload.Crops, 1)
	assert.Equal(t, []string{"expectedHarvestDate", "id", "name", "plantingDate", "status"}, keysOf(t, payload.Crops[0]))
}

func TestAnalyticsDashboardMatchesBundles(t *testing.T) {
	srv := newTestServer(t, nil)
	crop := seedFarm(t, srv)

	env := getAnalytics(t, srv, "")
	d := env.Data
	assert.Equal(t, analytics.Dashboard{
		TotalCrops:     1,
		ActiveTasks:    2,
		OverdueTasks:   1,
		RecentHarvests: 1,
		TotalYield:     80,
		WaterUsage:     300,
	}, d.Dashboard)
	assert.Equal(t, d.Water.TotalWater, d.Dashboard.WaterUsage)
	assert.Equal(t, d.Yield.TotalYield, d.Dashboard.TotalYield)
	assert.Equal(t, d.Yield.HarvestCount, d.Dashboard.RecentHarvests)
	assert.Equal(t, len(d.Crops), d.Dashboard.TotalCrops)
	assert.Equal(t, domain.WaterStats{TotalWater: 300, Count: 2, AveragePerEvent: 150}, d.Water)
	assert.Equal(t, domain.FertilizerStats{TotalFertilizer: 5, Count: 1, AveragePerEvent: 5}, d.Fertilizer)
	assert.Equal(t, domain.PestDiseaseStats{Count: 1, BySeverity: map[string]int{"medium": 1}}, d.PestDisease)
	assert.Equal(t, crop.ID, d.Crops[0].ID)
	assert.Equal(t, domain.CropGrowing, d.Crops[0].Status)
}

func TestAnalyticsDateFilters(t *testing.T) {
	srv := newTestServer(t, nil)
	seedFarm(t, srv)
	unfiltered := getAnalytics(t, srv, "").Data

	t.Run("window applies to activities only", func(t *testing.T) {
		d := getAnalytics(t, srv, "?startDate=2024-04-01&endDate=2024-04-15").Data
		assert.Equal(t, 1, d.Water.Count)
		assert.Equal(t, 100.0, d.Water.TotalWater)
		assert.Equal(t, 1, d.Fertilizer.Count)
		assert.Zero(t, d.Yield.HarvestCount)
		assert.Equal(t, unfiltered.Dashboard.TotalCrops, d.Dashboard.TotalCrops)
		assert.Equal(t, unfiltered.Dashboard.ActiveTasks, d.Dashboard.ActiveTasks)
	})

	t.Run("iso 8601 forms beyond rfc 3339 are honoured", func(t *testing.T) {
		q := url.Values{
			"startDate": {"2024-04-01T00:00:00+0000"},
			"endDate":   {"2024-04-15T00:00Z"},
		}
		d := getAnalytics(t, srv, "?"+q.Encode()).Data
		assert.Equal(t, 1, d.Water.Count)
		assert.Equal(t, 1, d.Fertilizer.Count)
		assert.Zero(t, d.Yield.HarvestCount)

		d = getAnalytics(t, srv, "?startDate=2024-04").Data
		assert.Equal(t, 1, d.Water.Count)
		assert.Equal(t, 1, d.Yield.HarvestCount)
		assert.Equal(t, 1, d.PestDisease.Count)

		d = getAnalytics(t, srv, "?startDate=2024-03-10T08:01&endDate=2024").Data
		assert.Equal(t, domain.WaterStats{}, d.Water, "2024 is January 1st, before the start")
	})

	t.Run("unparsable bounds are ignored", func(t *testing.T) {
		d := getAnalytics(t, srv, "?startDate=yesterday&endDate=soon").Data
		assert.Equal(t, unfiltered, d)
	})

	t.Run("inverted range yields empty activity stats", func(t *testing.T) {
		d := getAnalytics(t, srv, "?startDate=2024-06-01&endDate=2024-01-01").Data
		assert.Equal(t, domain.WaterStats{}, d.Water)
		assert.Equal(t, domain.FertilizerStats{}, d.Fertilizer)
		assert.Equal(t, domain.YieldStats{}, d.Yield)
		assert.Zero(t, d.PestDisease.Count)
		assert.Equal(t, 1, d.Dashboard.TotalCrops)
	})
}

func TestAnalyticsForNewUserIsZeroed(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics", nil, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode)
	var env analyticsEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Zero(t, env.Data.Dashboard)
	assert.Contains(t, string(data), `"crops":[]`)
	assert.Contains(t, string(data), `"bySeverity":{}`)
}

func TestAnalyticsStoreFailureIsGeneric(t *testing.T) {
	stub := &stubStore{fail: map[string]bool{"water": true}}
	srv := newTestServer(t, withStub(stub))

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/analytics", nil, srv.bearer())
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.JSONEq(t, `{"success":false,"error":"Internal server error","timestamp":"2024-05-01T12:00:00.000Z"}`, string(data))
	assert.NotContains(t, string(data), "locked")
}

func TestCreateCrop(t *testing.T) {
	srv := newTestServer(t, nil)
	cropsURL := srv.URL + "/api/crops"

	res, data := doJSON(t, srv.Client(), http.MethodPost, cropsURL, map[string]any{
		"name":                "Sorghum",
		"plantingDate":        "2024-03-01",
		"expectedHarvestDate": "2024-08-01T00:00:00Z",
		"area":                4,
	}, srv.bearer())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created struct {
		Success bool        `json:"success"`
		Data    domain.Crop `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.True(t, created.Success)
	assert.Equal(t, domain.CropPlanned, created.Data.Status)
	assert.Equal(t, srv.User.ID, created.Data.UserID)

	cases := []struct {
		name    string
		body    map[string]any
		details string
	}{
		{"bad date", map[string]any{"name": "X", "plantingDate": "someday", "expectedHarvestDate": "2024-08-01"}, `plantingDate: invalid date "someday"`},
		{"harvest before planting", map[string]any{"name": "X", "plantingDate": "2024-08-01", "expectedHarvestDate": "2024-03-01"}, "expectedHarvestDate: gtfield=PlantingDate"},
		{"blank name", map[string]any{"name": "  ", "plantingDate": "2024-03-01", "expectedHarvestDate": "2024-08-01"}, "name: required"},
		{"missing dates", map[string]any{"name": "X"}, "plantingDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, srv.Client(), http.MethodPost, cropsURL, tc.body, srv.bearer())
			require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
			var failure struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
				Details string `json:"details"`
			}
			require.NoError(t, json.Unmarshal(data, &failure))
			assert.False(t, failure.Success)
			assert.Equal(t, "Invalid input data", failure.Error)
			assert.Contains(t, failure.Details, tc.details)
		})
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, cropsURL, nil, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode)
	var listed struct {
		Data []domain.Crop `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &listed))
	assert.Len(t, listed.Data, 1)
}

func TestTaskAndActivityRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	crop := seedFarm(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/crops/"+crop.ID+"/status", map[string]any{"status": "HARVESTED"}, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/crops/unknown/status", map[string]any{"status": "FAILED"}, srv.bearer())
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks?pending=true", nil, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tasks struct {
		Data []domain.Task `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &tasks))
	require.Len(t, tasks.Data, 2)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/tasks/"+tasks.Data[0].ID+"/complete", nil, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/activities", map[string]any{
		"cropId":     crop.ID,
		"kind":       "HARVEST",
		"occurredAt": "2024-04-30T10:00:00Z",
		"quantity":   20,
	}, srv.bearer())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/activities?kind=HARVEST", nil, srv.bearer())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var acts struct {
		Data []domain.Activity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &acts))
	assert.Len(t, acts.Data, 2)

	d := getAnalytics(t, srv, "").Data
	assert.Equal(t, 1, d.Dashboard.ActiveTasks)
	assert.Equal(t, 100.0, d.Dashboard.TotalYield)
	assert.Equal(t, domain.CropHarvested, d.Crops[0].Status)
}

func TestDevLoginSession(t *testing.T) {
	srv := newTestServer(t, nil)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/dev/login", map[string]any{"email": "grower@farm.test"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var session *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == auth.DefaultCookieName {
			session = c
		}
	}
	require.NotNil(t, session, "session cookie")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"Cookie": session.Name + "=" + session.Value})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me struct {
		Data auth.Principal `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, srv.User.ID, me.Data.UserID)

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/dev/login", map[string]any{"email": "stranger@farm.test"}, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPublicRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "farmline_http_requests_total")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "bearerAuth")
	assert.Contains(t, string(data), "/api/analytics")
}

func TestAuthOnlyGuardsBasePath(t *testing.T) {
	srv := newTestServer(t, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/apiary", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	for _, path := range []string{"/api", "/api/", "/api/crops"} {
		res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, path)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, string(data), path)
	}
}

func TestUnderBasePath(t *testing.T) {
	cases := map[string]bool{
		"/api":           true,
		"/api/":          true,
		"/api/analytics": true,
		"/apiary":        false,
		"/api-docs":      false,
		"/metrics":       false,
	}
	for path, want := range cases {
		assert.Equal(t, want, underBasePath(path, "/api"), path)
	}
}
