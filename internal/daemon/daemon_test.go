package daemon_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"telepipe/internal/config"
	"telepipe/internal/daemon"
	"telepipe/internal/runs"
	"telepipe/internal/scheduler"
	"telepipe/internal/testsupport"
	"telepipe/internal/warehouse"
)

type testDaemon struct {
	daemon    *daemon.Daemon
	cfg       *config.Config
	runStore  *runs.Store
	warehouse *warehouse.Store
	sched     *scheduler.Scheduler
	baseURL   string
}

func newTestDaemon(t *testing.T, trigger scheduler.TriggerFunc, opts ...testsupport.ConfigOption) *testDaemon {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	runStore := testsupport.MustOpenRunStore(t, cfg)
	wh := testsupport.MustOpenWarehouse(t, cfg)

	sched := scheduler.New(nil, time.UTC)
	if trigger == nil {
		trigger = func(ctx context.Context) error { return nil }
	}
	if err := sched.Register("telegram-analytics", "", trigger); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d, err := daemon.New(cfg, runStore, wh, sched, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &testDaemon{
		daemon:    d,
		cfg:       cfg,
		runStore:  runStore,
		warehouse: wh,
		sched:     sched,
		baseURL:   "http://" + d.APIAddr(),
	}
}

func seedSearchData(t *testing.T, store *warehouse.Store) {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2025, 7, 10, 8, 0, 0, 0, time.UTC)
	docs := make([]warehouse.RawMessage, 0, 3)
	for i := 1; i <= 3; i++ {
		docs = append(docs, warehouse.RawMessage{
			Channel:     "CheMed123",
			MessageDate: day.Add(time.Duration(i) * time.Hour),
			Data: fmt.Sprintf(`{"id":%d,"date":"2025-07-10T0%d:00:00Z","text":"paracetamol batch %d"}`,
				i, i, i),
		})
	}
	if _, err := store.InsertRawMessages(ctx, docs); err != nil {
		t.Fatalf("InsertRawMessages: %v", err)
	}
	if _, err := store.RebuildFactMessages(ctx); err != nil {
		t.Fatalf("RebuildFactMessages: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	td := newTestDaemon(t, nil)

	resp, err := http.Get(td.baseURL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status daemon.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Running {
		t.Error("expected running daemon")
	}
	if len(status.Pipelines) != 1 || status.Pipelines[0].Pipeline != "telegram-analytics" {
		t.Errorf("pipelines = %+v", status.Pipelines)
	}
}

func TestChannelActivityUnknownChannel(t *testing.T) {
	td := newTestDaemon(t, nil)

	resp, err := http.Get(td.baseURL + "/api/channels/unknown_channel/activity")
	if err != nil {
		t.Fatalf("GET activity: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Channel not found" {
		t.Errorf("error = %q, want \"Channel not found\"", body["error"])
	}
}

func TestChannelActivityKnownChannel(t *testing.T) {
	td := newTestDaemon(t, nil)
	seedSearchData(t, td.warehouse)

	resp, err := http.Get(td.baseURL + "/api/channels/CheMed123/activity")
	if err != nil {
		t.Fatalf("GET activity: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var buckets []warehouse.ActivityBucket
	if err := json.NewDecoder(resp.Body).Decode(&buckets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buckets) != 1 || buckets[0].MessageCount != 3 {
		t.Errorf("buckets = %+v", buckets)
	}
}

func TestSearchClampsLimitAndCountsAllMatches(t *testing.T) {
	td := newTestDaemon(t, nil)
	seedSearchData(t, td.warehouse)

	// A limit above the cap is clamped to 100, not rejected, and count
	// reflects every match before pagination.
	resp, err := http.Get(td.baseURL + "/api/search/messages?query=paracetamol&limit=150")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result daemon.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || result.Count != 3 || len(result.Results) != 3 {
		t.Errorf("result = success=%v count=%d results=%d", result.Success, result.Count, len(result.Results))
	}
	if result.Query != "paracetamol" {
		t.Errorf("query = %q", result.Query)
	}
}

func TestSearchPaginationKeepsTotalCount(t *testing.T) {
	td := newTestDaemon(t, nil)
	seedSearchData(t, td.warehouse)

	resp, err := http.Get(td.baseURL + "/api/search/messages?query=paracetamol&limit=2&offset=2")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()

	var result daemon.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Count != 3 {
		t.Errorf("count = %d, want 3 (all matches)", result.Count)
	}
	if len(result.Results) != 1 {
		t.Errorf("page size = %d, want 1", len(result.Results))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	td := newTestDaemon(t, nil)

	resp, err := http.Get(td.baseURL + "/api/search/messages")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTriggerRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	td := newTestDaemon(t, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	go func() {
		_ = td.daemon.TriggerPipeline(context.Background(), "telegram-analytics")
	}()
	<-started

	resp, err := http.Post(td.baseURL+"/api/trigger", "application/json",
		strings.NewReader(`{"pipeline":"telegram-analytics"}`))
	if err != nil {
		t.Fatalf("POST trigger: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for overlapping trigger", resp.StatusCode)
	}
}

func TestTriggerDefaultsToSolePipeline(t *testing.T) {
	ran := make(chan struct{}, 1)
	td := newTestDaemon(t, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})

	resp, err := http.Post(td.baseURL+"/api/trigger", "application/json", strings.NewReader(""))
	if err != nil {
		t.Fatalf("POST trigger: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	select {
	case <-ran:
	default:
		t.Error("trigger did not run")
	}
}

func TestAPITokenGuardsEndpoints(t *testing.T) {
	td := newTestDaemon(t, nil, func(cfg *config.Config) {
		cfg.Paths.APIToken = "secret"
	})

	resp, err := http.Get(td.baseURL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var denied struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&denied); err != nil {
		t.Fatalf("decode 401 body: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}
	if denied.Error != "unauthorized" {
		t.Fatalf("401 body error = %q, want unauthorized", denied.Error)
	}

	wrong, _ := http.NewRequest(http.MethodGet, td.baseURL+"/api/status", nil)
	wrong.Header.Set("Authorization", "Bearer not-the-secret")
	wrongResp, err := http.DefaultClient.Do(wrong)
	if err != nil {
		t.Fatalf("GET status with wrong token: %v", err)
	}
	wrongResp.Body.Close()
	if wrongResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", wrongResp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, td.baseURL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET status with token: %v", err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", authed.StatusCode)
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	td := newTestDaemon(t, nil)

	sched := scheduler.New(nil, time.UTC)
	if err := sched.Register("telegram-analytics", "", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := daemon.New(td.cfg, td.runStore, td.warehouse, sched, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail lock acquisition")
	}
}
