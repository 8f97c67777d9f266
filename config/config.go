package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" env:"ZAPMIRROR_SYSTEM_APPID"`
	Location string `yaml:"location" env:"ZAPMIRROR_SYSTEM_LOCATION"`
	Workdir  string `yaml:"workdir" env:"ZAPMIRROR_SYSTEM_WORKDIR"`
	Debug    bool   `yaml:"debug" env:"ZAPMIRROR_SYSTEM_DEBUG"`
}

type WebConfig struct {
	Host   string `yaml:"host" env:"ZAPMIRROR_WEB_HOST"`
	Port   int    `yaml:"port" env:"ZAPMIRROR_WEB_PORT"`
	Secret string `yaml:"secret" env:"ZAPMIRROR_WEB_SECRET"`
}

type DBConfig struct {
	Type     string `yaml:"type" env:"ZAPMIRROR_DB_TYPE"`
	Host     string `yaml:"host" env:"ZAPMIRROR_DB_HOST"`
	Port     int    `yaml:"port" env:"ZAPMIRROR_DB_PORT"`
	Name     string `yaml:"name" env:"ZAPMIRROR_DB_NAME"`
	User     string `yaml:"user" env:"ZAPMIRROR_DB_USER"`
	Passwd   string `yaml:"passwd" env:"ZAPMIRROR_DB_PWD"`
	MaxConn  int    `yaml:"max_conn" env:"ZAPMIRROR_DB_MAX_CONN"`
	IdleConn int    `yaml:"idle_conn" env:"ZAPMIRROR_DB_IDLE_CONN"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" env:"ZAPMIRROR_LOGGER_MODE"`
	FileEnable bool   `yaml:"file_enable" env:"ZAPMIRROR_LOGGER_FILE_ENABLE"`
	Filename   string `yaml:"filename" env:"ZAPMIRROR_LOGGER_FILENAME"`
}

// GatewayConfig holds the Evolution API endpoint settings. CallbackURL is the
// public URL the gateway posts webhook events back to.
type GatewayConfig struct {
	BaseURL     string `yaml:"base_url" env:"EVOLUTION_API_URL"`
	APIKey      string `yaml:"api_key" env:"EVOLUTION_GLOBAL_KEY"`
	CallbackURL string `yaml:"callback_url" env:"WEBHOOK_URL"`
	TimeoutSec  int    `yaml:"timeout_sec" env:"ZAPMIRROR_GATEWAY_TIMEOUT"`
}

type SyncConfig struct {
	HistoryDays     int    `yaml:"history_days" env:"ZAPMIRROR_SYNC_HISTORY_DAYS"`
	ChatLimit       int    `yaml:"chat_limit" env:"ZAPMIRROR_SYNC_CHAT_LIMIT"`
	ChatThrottleMs  int    `yaml:"chat_throttle_ms" env:"ZAPMIRROR_SYNC_CHAT_THROTTLE_MS"`
	AutoSyncSpec    string `yaml:"auto_sync_spec" env:"ZAPMIRROR_SYNC_AUTO_SPEC"`
	QueueWorkers    int    `yaml:"queue_workers" env:"ZAPMIRROR_QUEUE_WORKERS"`
	QueueAttempts   int    `yaml:"queue_attempts" env:"ZAPMIRROR_QUEUE_ATTEMPTS"`
	QueueBackoffMs  int    `yaml:"queue_backoff_ms" env:"ZAPMIRROR_QUEUE_BACKOFF_MS"`
	QueuePollMs     int    `yaml:"queue_poll_ms" env:"ZAPMIRROR_QUEUE_POLL_MS"`
	QueueStaleSec   int    `yaml:"queue_stale_sec" env:"ZAPMIRROR_QUEUE_STALE_SEC"`
	DeadJobKeepDays int    `yaml:"dead_job_keep_days" env:"ZAPMIRROR_QUEUE_DEAD_KEEP_DAYS"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system"`
	Web      WebConfig     `yaml:"web"`
	Database DBConfig      `yaml:"database"`
	Logger   LogConfig     `yaml:"logger"`
	Gateway  GatewayConfig `yaml:"gateway"`
	Sync     SyncConfig    `yaml:"sync"`
}

func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "zapmirror",
			Location: "America/Sao_Paulo",
			Workdir:  "/var/zapmirror",
		},
		Web: WebConfig{
			Host:   "0.0.0.0",
			Port:   3000,
			Secret: "9b6de5cc-zapmirror-b712-2016",
		},
		Database: DBConfig{
			Type:     "postgres",
			Host:     "127.0.0.1",
			Port:     5432,
			Name:     "zapmirror",
			User:     "postgres",
			MaxConn:  50,
			IdleConn: 10,
		},
		Logger: LogConfig{
			Mode:     "development",
			Filename: "/var/zapmirror/zapmirror.log",
		},
		Gateway: GatewayConfig{
			BaseURL:     "http://127.0.0.1:8080",
			CallbackURL: "http://host.docker.internal:3000/webhooks/evolution",
			TimeoutSec:  15,
		},
		Sync: SyncConfig{
			HistoryDays:     30,
			ChatLimit:       100,
			ChatThrottleMs:  2000,
			AutoSyncSpec:    "@every 10m",
			QueueWorkers:    1,
			QueueAttempts:   3,
			QueueBackoffMs:  1000,
			QueuePollMs:     500,
			QueueStaleSec:   60,
			DeadJobKeepDays: 7,
		},
	}
}

// LoadConfig reads the YAML config file when present and then applies
// environment overrides. A missing file is not an error; defaults apply.
func LoadConfig(cfile string) (*AppConfig, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultAppConfig()
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
