// Copyright 2025 James Ross
package intake

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/flyingrobots/reportgen/internal/docstore"
	"github.com/flyingrobots/reportgen/internal/queue"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Worker.RetentionDays = 30
	cfg.SourceAllowlist = []string{"reportSource"}
	cfg.Intake.RequireAPIKey = true
	cfg.Intake.RateLimitPerSecond = 1000
	cfg.Intake.RateLimitBurst = 1000
	cfg.Intake.AuditLogPath = "/tmp/reportgen-intake-test-audit.log"
	return cfg
}

type testDeps struct {
	router    *mux.Router
	jobs      *docstore.FakeJobStore
	schedules *docstore.FakeScheduleStore
	keys      *docstore.FakeAPIKeyStore
	close     func()
}

func setupRouter(t *testing.T) *testDeps {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(rdb, queue.Options{
		Name:              "reportgen:jobs",
		ProcessingListFmt: "reportgen:worker:%s:processing",
		HeartbeatKeyFmt:   "reportgen:heartbeat:%s",
		HeartbeatTTL:      30 * time.Second,
		MaxAttempts:       2,
		BackoffBase:       1 * time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		BRPopLPushTimeout: 200 * time.Millisecond,
		RemoveOnComplete:  2,
		RemoveOnFail:      2,
	})

	jobs := docstore.NewFakeJobStore()
	schedules := docstore.NewFakeScheduleStore()
	keys := docstore.NewFakeAPIKeyStore()
	keys.Keys["tenant-a"] = "secret-key"

	cfg := testConfig()
	log := zap.NewNop()
	h := NewHandler(jobs, schedules, q, cfg, log)

	router := mux.NewRouter()
	router.HandleFunc("/v1/jobs", h.CreateJob).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/v1/schedules", h.CreateSchedule).Methods(http.MethodPost)
	router.HandleFunc("/v1/schedules", h.ListSchedules).Methods(http.MethodGet)
	router.HandleFunc("/v1/schedules/{id}", h.GetSchedule).Methods(http.MethodGet)
	router.HandleFunc("/v1/schedules/{id}", h.UpdateSchedule).Methods(http.MethodPut)
	router.HandleFunc("/v1/schedules/{id}/disable", h.DisableSchedule).Methods(http.MethodPost)

	wrapped := applyMiddleware(router,
		recoveryMiddleware(log),
		requestIDMiddleware,
		authMiddleware(keys, cfg.Intake.RequireAPIKey, log),
		rateLimitMiddleware(cfg.Intake.RateLimitPerSecond, cfg.Intake.RateLimitBurst),
	)

	final := mux.NewRouter()
	final.PathPrefix("/").Handler(wrapped)

	return &testDeps{router: final, jobs: jobs, schedules: schedules, keys: keys, close: mr.Close}
}

func doRequest(d *testDeps, method, path string, body interface{}, auth bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("X-Tenant-Id", "tenant-a")
		req.Header.Set("X-Api-Key", "secret-key")
	}
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobHappyPath(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	rec := doRequest(d, http.MethodPost, "/v1/jobs", map[string]interface{}{
		"reportDefinitionId": "rd-1",
		"format":             "delimited",
	}, true)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" || resp.Status != "queued" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateJobArchiveRequiresIncludeFormats(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	rec := doRequest(d, http.MethodPost, "/v1/jobs", map[string]interface{}{
		"reportDefinitionId": "rd-1",
		"format":             "archive",
	}, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobCompressionArchiveConflict(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	rec := doRequest(d, http.MethodPost, "/v1/jobs", map[string]interface{}{
		"reportDefinitionId": "rd-1",
		"format":             "archive",
		"includeFormats":     []string{"delimited", "spreadsheet"},
		"compression":        "zip",
	}, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobSourceCollectionNotAllowed(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	rec := doRequest(d, http.MethodPost, "/v1/jobs", map[string]interface{}{
		"reportDefinitionId": "rd-1",
		"format":             "delimited",
		"sourceCollection":   "secretInternalTable",
	}, true)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobMissingTenant(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	rec := doRequest(d, http.MethodPost, "/v1/jobs", map[string]interface{}{
		"reportDefinitionId": "rd-1",
		"format":             "delimited",
	}, false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobInvalidAPIKey(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"reportDefinitionId":"rd-1","format":"delimited"}`))
	req.Header.Set("X-Tenant-Id", "tenant-a")
	req.Header.Set("X-Api-Key", "wrong-key")
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestScheduleCreateGetListUpdateDisable(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	createRec := doRequest(d, http.MethodPost, "/v1/schedules", map[string]interface{}{
		"name":     "daily-export",
		"cron":     "0 0 * * *",
		"timezone": "UTC",
		"enabled":  true,
		"format":   "delimited",
	}, true)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var created docstore.Schedule
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created schedule: %v", err)
	}
	if created.NextRunAt == nil {
		t.Fatalf("expected nextRunAt to be set on an enabled schedule")
	}
	id := created.ID.Hex()

	getRec := doRequest(d, http.MethodGet, "/v1/schedules/"+id, nil, true)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get: want 200, got %d: %s", getRec.Code, getRec.Body.String())
	}

	listRec := doRequest(d, http.MethodGet, "/v1/schedules", nil, true)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list: want 200, got %d: %s", listRec.Code, listRec.Body.String())
	}

	updateRec := doRequest(d, http.MethodPut, "/v1/schedules/"+id, map[string]interface{}{
		"name":     "daily-export-renamed",
		"cron":     "0 1 * * *",
		"timezone": "UTC",
		"enabled":  true,
		"format":   "delimited",
	}, true)
	if updateRec.Code != http.StatusOK {
		t.Fatalf("update: want 200, got %d: %s", updateRec.Code, updateRec.Body.String())
	}
	var updated docstore.Schedule
	if err := json.Unmarshal(updateRec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated schedule: %v", err)
	}
	if updated.Name != "daily-export-renamed" || updated.NextRunAt == nil {
		t.Fatalf("unexpected updated schedule: %+v", updated)
	}

	disableRec := doRequest(d, http.MethodPost, "/v1/schedules/"+id+"/disable", nil, true)
	if disableRec.Code != http.StatusNoContent {
		t.Fatalf("disable: want 204, got %d: %s", disableRec.Code, disableRec.Body.String())
	}
}

func TestScheduleCreateInvalidCron(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	rec := doRequest(d, http.MethodPost, "/v1/schedules", map[string]interface{}{
		"name":     "bad-cron",
		"cron":     "not-a-cron",
		"timezone": "UTC",
		"enabled":  true,
		"format":   "delimited",
	}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetJobNotFound(t *testing.T) {
	d := setupRouter(t)
	defer d.close()

	rec := doRequest(d, http.MethodGet, "/v1/jobs/000000000000000000000000", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
