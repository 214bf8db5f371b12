package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rfp_scout/daemon"
	"rfp_scout/discovery"
	"rfp_scout/models"
	"rfp_scout/source"
	"rfp_scout/storage"
)

// gateScorer blocks until its context ends.
type gateScorer struct {
	entered chan struct{}
}

func (g *gateScorer) Assess(ctx context.Context, opp models.Opportunity, model string, profile models.CompanyProfile) (*models.Assessment, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type noSettings struct{}

func (noSettings) CompanyProfile() models.CompanyProfile { return models.CompanyProfile{} }

type fixture struct {
	server *httptest.Server
	daemon *daemon.Daemon
	scorer *gateScorer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	scorer := &gateScorer{entered: make(chan struct{}, 1)}
	exec := discovery.NewExecutor(discovery.Deps{
		Store:    store,
		Source:   source.NewMockSource(),
		Scorer:   scorer,
		Settings: noSettings{},
	}, discovery.Options{DefaultModel: "m"})
	d := daemon.New(daemon.Deps{Store: store, Executor: exec}, daemon.Options{
		SchedulerInterval:   time.Hour,
		MaintenanceInterval: time.Hour,
		Location:            time.UTC,
	})

	server := httptest.NewServer(NewServer(d).Handler())
	t.Cleanup(func() {
		server.Close()
		d.Stop()
		d.CancelCurrentRun()
		d.WaitForRuns(10 * time.Second)
		store.Close()
	})
	return &fixture{server: server, daemon: d, scorer: scorer}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+"/api/rfp"+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded any
	json.NewDecoder(resp.Body).Decode(&decoded)
	obj, _ := decoded.(map[string]any)
	return resp, obj
}

func TestAPI_DiscoverLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/daemon/status", "")
	if resp.StatusCode != http.StatusOK || body["is_running"] != false {
		t.Fatalf("unexpected status response %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/discover/background", "")
	if resp.StatusCode != http.StatusServiceUnavailable || body["error"] != "not_running" {
		t.Fatalf("expected 503 not_running, got %d %v", resp.StatusCode, body)
	}

	if resp, _ := f.do(t, http.MethodPost, "/daemon/start", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/discover/background", `{"search_keywords":["machine learning"],"run_mode":"test"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %v", resp.StatusCode, body)
	}
	runID, _ := body["run_id"].(string)
	if runID == "" {
		t.Fatalf("missing run id in %v", body)
	}

	select {
	case <-f.scorer.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("run never reached scoring")
	}

	resp, body = f.do(t, http.MethodPost, "/discover/background", "")
	if resp.StatusCode != http.StatusConflict || body["error"] != "run_in_progress" {
		t.Fatalf("expected 409, got %d %v", resp.StatusCode, body)
	}

	if resp, _ := f.do(t, http.MethodGet, "/runs/"+runID, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected in-flight run lookup to succeed, got %d", resp.StatusCode)
	}

	if resp, _ := f.do(t, http.MethodPost, "/runs/current/cancel", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel returned %d", resp.StatusCode)
	}
	if !f.daemon.WaitForRuns(10 * time.Second) {
		t.Fatalf("run did not stop after cancel")
	}
	if resp, _ := f.do(t, http.MethodPost, "/runs/current/cancel", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with nothing to cancel, got %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/runs/"+runID, "")
	if resp.StatusCode != http.StatusOK || body["status"] != string(models.RunStatusCancelled) {
		t.Fatalf("expected cancelled run, got %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/runs/"+runID+"/logs?limit=50", "")
	if resp.StatusCode != http.StatusOK || body["total_entries"].(float64) == 0 {
		t.Fatalf("expected logs, got %d %v", resp.StatusCode, body)
	}

	if resp, _ := f.do(t, http.MethodGet, "/runs/does-not-exist", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

func TestAPI_Schedules(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/schedules", `{"name":"bad","cron_expression":"sometimes"}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "invalid_schedule" {
		t.Fatalf("expected 400 invalid_schedule, got %d %v", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/schedules", `{not json`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/schedules", `{"name":"weekday","cron_expression":"0 8 * * 1-5","enabled":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", resp.StatusCode, body)
	}
	id := body["schedule_id"].(string)

	if resp, _ := f.do(t, http.MethodPut, "/schedules/"+id, `{"name":"weekday","cron_expression":"0 9 * * 1-5","enabled":true}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("update returned %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPut, "/schedules/unknown", `{"cron_expression":"0 9 * * *"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 updating unknown schedule, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(f.server.URL + "/api/rfp/schedules")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var schedules []models.Schedule
	json.NewDecoder(listResp.Body).Decode(&schedules)
	listResp.Body.Close()
	if len(schedules) != 1 || schedules[0].CronExpression != "0 9 * * 1-5" {
		t.Fatalf("unexpected schedules %+v", schedules)
	}

	if resp, _ := f.do(t, http.MethodDelete, "/schedules/"+id, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete returned %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodDelete, "/schedules/"+id, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}
