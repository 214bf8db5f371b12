package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rfp_scout/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_ProfileAndSchedules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "profile.yaml"), "name: Acme\ncapabilities: [machine learning]\nnaics_codes: [\"541511\"]\n")
	writeFile(t, filepath.Join(dir, "schedules", "weekly.yaml"), "name: Weekly\ncron_expression: \"0 8 * * 1\"\nsearch_config:\n  search_keywords: [geospatial]\n")
	writeFile(t, filepath.Join(dir, "schedules", "notes.txt"), "ignored")

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("SCHEDULER_INTERVAL", "10s")
	t.Setenv("STOP_POLICY", "Cancel")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CompanyProfile().Name != "Acme" || len(cfg.Profile.NAICSCodes) != 1 {
		t.Fatalf("profile not loaded: %+v", cfg.Profile)
	}
	if cfg.Daemon.SchedulerInterval != 10*time.Second {
		t.Fatalf("expected 10s interval, got %s", cfg.Daemon.SchedulerInterval)
	}
	if cfg.Daemon.StopPolicy != StopPolicyCancel {
		t.Fatalf("expected cancel policy, got %q", cfg.Daemon.StopPolicy)
	}
	if !strings.HasSuffix(cfg.DBPath, "rfp_daemon.db") {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}

	if len(cfg.Schedules) != 1 {
		t.Fatalf("expected one schedule, got %d", len(cfg.Schedules))
	}
	s := cfg.Schedules[0]
	if s.ID != "weekly" || !s.Enabled || s.CronExpression != "0 8 * * 1" {
		t.Fatalf("unexpected schedule %+v", s)
	}
	if len(s.SearchConfig.Keywords) != 1 || s.SearchConfig.Keywords[0] != "geospatial" {
		t.Fatalf("schedule keywords not applied: %v", s.SearchConfig.Keywords)
	}
	if s.SearchConfig.DaysBack != models.DefaultSearchConfig().DaysBack {
		t.Fatalf("defaults should fill unspecified fields, got %d", s.SearchConfig.DaysBack)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"store driver": {"STORE_DRIVER": "mysql"},
		"postgres url": {"STORE_DRIVER": "postgres", "DATABASE_URL": ""},
		"stop policy":  {"STOP_POLICY": "abandon"},
		"timezone":     {"SCHEDULER_TZ": "Mars/Olympus"},
		"recent runs":  {"MAX_RECENT_RUNS": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CONFIG_DIR", t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestLocation_DefaultsToLocal(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Fatalf("expected time.Local, got %v %v", loc, err)
	}
}
