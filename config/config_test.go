package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("web port = %d", cfg.Web.Port)
	}
	if cfg.Sync.HistoryDays != 30 || cfg.Sync.QueueAttempts != 3 {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
}

func TestLoadConfigYamlAndEnvOverride(t *testing.T) {
	cfile := filepath.Join(t.TempDir(), "zapmirror.yml")
	yaml := `
web:
  port: 4000
gateway:
  base_url: http://gateway.internal:8080
sync:
  history_days: 15
`
	if err := os.WriteFile(cfile, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	// env wins over the file
	t.Setenv("EVOLUTION_API_URL", "http://override:9090")
	t.Setenv("ZAPMIRROR_QUEUE_WORKERS", "4")

	cfg, err := LoadConfig(cfile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 4000 {
		t.Errorf("web port = %d", cfg.Web.Port)
	}
	if cfg.Sync.HistoryDays != 15 {
		t.Errorf("history days = %d", cfg.Sync.HistoryDays)
	}
	if cfg.Gateway.BaseURL != "http://override:9090" {
		t.Errorf("gateway base url = %s", cfg.Gateway.BaseURL)
	}
	if cfg.Sync.QueueWorkers != 4 {
		t.Errorf("queue workers = %d", cfg.Sync.QueueWorkers)
	}
	// untouched sections keep defaults
	if cfg.Database.Type != "postgres" {
		t.Errorf("db type = %s", cfg.Database.Type)
	}
}
