package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rfp_scout/models"
)

type Config struct {
	DataDir     string
	DBPath      string
	StoreDriver string
	DatabaseURL string
	LogFile     string
	APIAddr     string
	ConfigDir   string

	Daemon    DaemonConfig
	SAM       SAMConfig
	Anthropic AnthropicConfig
	Proxy     ProxyConfig
	S3        S3Config

	Profile   models.CompanyProfile
	Schedules []models.Schedule
}

type DaemonConfig struct {
	SchedulerInterval   time.Duration
	MaintenanceInterval time.Duration
	DueWindow           time.Duration
	LogRetention        time.Duration
	RunRetention        time.Duration
	MaxRecentRuns       int
	ScoreTimeout        time.Duration
	StopPolicy          string
	Timezone            string
	DrainTimeout        time.Duration
}

type SAMConfig struct {
	APIKey             string
	BaseURL            string
	MinRequestInterval time.Duration
	UseMock            bool
}

type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
	MaxTokens    int
}

type ProxyConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	StopPolicyDrain  = "drain"
	StopPolicyCancel = "cancel"

	DefaultSAMBaseURL = "https://api.sam.gov/prod/opportunities/v2/search"
	DefaultModel      = "claude-haiku-4-5"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	cfg := &Config{
		DataDir:     dataDir,
		DBPath:      getEnv("DB_PATH", filepath.Join(dataDir, "rfp_daemon.db")),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogFile:     getEnv("LOG_FILE", "daemon.log"),
		APIAddr:     getEnv("API_ADDR", ":8080"),
		ConfigDir:   getEnv("CONFIG_DIR", "config"),
		Daemon: DaemonConfig{
			SchedulerInterval:   getEnvDuration("SCHEDULER_INTERVAL", 5*time.Second),
			MaintenanceInterval: getEnvDuration("MAINTENANCE_INTERVAL", time.Hour),
			DueWindow:           getEnvDuration("DUE_WINDOW", 60*time.Second),
			LogRetention:        getEnvDuration("LOG_RETENTION", 7*24*time.Hour),
			RunRetention:        getEnvDuration("RUN_RETENTION", 30*24*time.Hour),
			MaxRecentRuns:       getEnvInt("MAX_RECENT_RUNS", 10),
			ScoreTimeout:        getEnvDuration("SCORE_TIMEOUT", 60*time.Second),
			StopPolicy:          strings.ToLower(getEnv("STOP_POLICY", StopPolicyDrain)),
			Timezone:            os.Getenv("SCHEDULER_TZ"),
			DrainTimeout:        getEnvDuration("DRAIN_TIMEOUT", 5*time.Minute),
		},
		SAM: SAMConfig{
			APIKey:             strings.TrimSpace(os.Getenv("SAM_API_KEY")),
			BaseURL:            getEnv("SAM_BASE_URL", DefaultSAMBaseURL),
			MinRequestInterval: getEnvDuration("SAM_MIN_REQUEST_INTERVAL", time.Second),
			UseMock:            os.Getenv("USE_MOCK_SOURCE") == "true",
		},
		Anthropic: AnthropicConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel: getEnv("DEFAULT_MODEL", DefaultModel),
			MaxTokens:    getEnvInt("MODEL_MAX_TOKENS", 2048),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "rfp-runs"),
		},
	}

	if err := cfg.loadProfile(); err != nil {
		return nil, fmt.Errorf("load company profile: %w", err)
	}
	if err := cfg.loadSchedules(); err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.Daemon.StopPolicy {
	case StopPolicyDrain, StopPolicyCancel:
	default:
		return fmt.Errorf("unknown STOP_POLICY %q", c.Daemon.StopPolicy)
	}

	durations := map[string]time.Duration{
		"SCHEDULER_INTERVAL":   c.Daemon.SchedulerInterval,
		"MAINTENANCE_INTERVAL": c.Daemon.MaintenanceInterval,
		"DUE_WINDOW":           c.Daemon.DueWindow,
		"LOG_RETENTION":        c.Daemon.LogRetention,
		"RUN_RETENTION":        c.Daemon.RunRetention,
		"SCORE_TIMEOUT":        c.Daemon.ScoreTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Daemon.MaxRecentRuns <= 0 {
		return fmt.Errorf("MAX_RECENT_RUNS must be positive, got %d", c.Daemon.MaxRecentRuns)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the time zone cron expressions are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	if c.Daemon.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Daemon.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TZ %q: %w", c.Daemon.Timezone, err)
	}
	return loc, nil
}

// CompanyProfile makes Config the run-time settings provider.
func (c *Config) CompanyProfile() models.CompanyProfile {
	return c.Profile
}

func (c *Config) loadProfile() error {
	path := filepath.Join(c.ConfigDir, "profile.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, &c.Profile)
}

func (c *Config) loadSchedules() error {
	scheduleDir := filepath.Join(c.ConfigDir, "schedules")
	entries, err := os.ReadDir(scheduleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(scheduleDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		sched := models.Schedule{
			CronExpression: models.DefaultCronExpression,
			Enabled:        true,
			SearchConfig:   models.DefaultSearchConfig(),
		}
		if err := yaml.Unmarshal(data, &sched); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if sched.ID == "" {
			sched.ID = strings.TrimSuffix(entry.Name(), ".yaml")
		}
		c.Schedules = append(c.Schedules, sched)
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
