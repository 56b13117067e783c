package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pixelpress/pixelpress/config"
	"github.com/pixelpress/pixelpress/domain/quota"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pixelpress.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  environment: development
database:
  driver: memory
gate:
  capacity: 8
quota:
  enforce: soft
plans:
  - tier: custom
    max_file_size: 1048576
    max_pixels: 1000000
    max_operations: 2
    monthly_limit: 100
    allowed_formats: [jpg, png]
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Production() {
		t.Error("development environment reported as production")
	}
	if cfg.Gate.Capacity != 8 {
		t.Errorf("gate capacity = %d, want 8", cfg.Gate.Capacity)
	}
	if cfg.Quota.Mode() != quota.EnforceSoft {
		t.Errorf("mode = %q, want soft", cfg.Quota.Mode())
	}
	if len(cfg.Plans) != 1 || cfg.Plans[0].Tier != "custom" {
		t.Errorf("plans = %+v", cfg.Plans)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.Server.Production() {
		t.Error("default environment is not production")
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %v, want 30s", cfg.Server.RequestTimeout)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Gate.Capacity != 4 {
		t.Errorf("gate capacity = %d, want 4", cfg.Gate.Capacity)
	}
	if cfg.Quota.Mode() != quota.EnforceHard {
		t.Errorf("mode = %q, want hard", cfg.Quota.Mode())
	}
	if cfg.Sandbox.DailyLimit != 100 {
		t.Errorf("sandbox daily limit = %d, want 100", cfg.Sandbox.DailyLimit)
	}
	if len(cfg.Plans) != 4 {
		t.Errorf("default plans = %d, want 4", len(cfg.Plans))
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics path = %q, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("Load() = nil for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PIXELPRESS_SERVER_PORT", "7070")
	t.Setenv("PIXELPRESS_QUOTA_ENFORCE", "soft")
	t.Setenv("PIXELPRESS_GATE_CAPACITY", "16")

	path := writeConfig(t, "server:\n  port: 9090\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Quota.Mode() != quota.EnforceSoft {
		t.Errorf("mode = %q, want soft", cfg.Quota.Mode())
	}
	if cfg.Gate.Capacity != 16 {
		t.Errorf("gate capacity = %d, want 16", cfg.Gate.Capacity)
	}
}

func TestLoad_ExpandsEnvInFile(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/test-pixelpress.db")
	path := writeConfig(t, "database:\n  dsn: ${DB_PATH}\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Database.DSN != "/tmp/test-pixelpress.db" {
		t.Errorf("dsn = %q, want expanded value", cfg.Database.DSN)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PIXELPRESS_DATABASE_DRIVER", "memory")
	t.Setenv("PIXELPRESS_LOG_LEVEL", "debug")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() = %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadWithFallback(t *testing.T) {
	cfg, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback() = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"bad port", "server:\n  port: 99999\n", "server.port"},
		{"bad driver", "database:\n  driver: postgres\n", "database.driver"},
		{"bad enforce", "quota:\n  enforce: maybe\n", "quota.enforce"},
		{"bad log level", "logging:\n  level: verbose\n", "logging.level"},
		{
			"duplicate tier",
			`plans:
  - {tier: a, max_file_size: 1, max_operations: 1, monthly_limit: 1}
  - {tier: a, max_file_size: 1, max_operations: 1, monthly_limit: 1}
`,
			"duplicated",
		},
		{
			"missing tier",
			"plans:\n  - {max_file_size: 1, max_operations: 1, monthly_limit: 1}\n",
			"tier is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := config.Load(path)
			if err == nil {
				t.Fatal("Load() = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	catalog := cfg.Catalog()
	if catalog.Len() != 4 {
		t.Fatalf("catalog size = %d, want 4", catalog.Len())
	}
	limits, err := catalog.LimitsFor("pro")
	if err != nil {
		t.Fatalf("LimitsFor(pro) = %v", err)
	}
	if limits.MonthlyLimit != 10000 {
		t.Errorf("pro monthly limit = %d, want 10000", limits.MonthlyLimit)
	}
}
