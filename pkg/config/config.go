package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/spf13/cast"
)

type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Logging     LoggingConfig     `json:"logging"`
	Telegram    TelegramConfig    `json:"telegram"`
	Translation TranslationConfig `json:"translation"`
	Jobs        JobsConfig        `json:"jobs"`
	Cache       CacheConfig       `json:"cache"`
	Storage     StorageConfig     `json:"storage"`
	HTTP        HTTPConfig        `json:"http"`
	Review      ReviewConfig      `json:"review"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
}

type LoggingConfig struct {
	Level      string   `json:"level"`
	File       string   `json:"file"`
	GormLevel  string   `json:"gorm_level"`
	SlowQuery  Duration `json:"slow_query"`
	MaxSizeMB  int      `json:"max_size_mb"`
	MaxBackups int      `json:"max_backups"`
	MaxAgeDays int      `json:"max_age_days"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type TranslationConfig struct {
	Provider       string   `json:"provider"`
	APIKey         string   `json:"api_key"`
	BaseURL        string   `json:"base_url"`
	Model          string   `json:"model"`
	SourceLanguage string   `json:"source_language"`
	MinInterval    Duration `json:"min_interval"`
	MaxBackoff     Duration `json:"max_backoff"`
	BatchSize      int      `json:"batch_size"`
	MaxAttempts    int      `json:"max_attempts"`
	ContextAware   bool     `json:"context_aware"`
	RequestTimeout Duration `json:"request_timeout"`
}

type JobsConfig struct {
	Workers         int      `json:"workers"`
	QueueSize       int      `json:"queue_size"`
	WordBatchSize   int      `json:"word_batch_size"`
	FlushMultiplier int      `json:"flush_multiplier"`
	MinWordLength   int      `json:"min_word_length"`
	Timeout         Duration `json:"timeout"`
	StuckAfter      Duration `json:"stuck_after"`
	RequeueAfter    Duration `json:"requeue_after"`
	SweepSchedule   string   `json:"sweep_schedule"`
}

type CacheConfig struct {
	Type     string   `json:"type"`
	TTL      Duration `json:"ttl"`
	Size     int      `json:"size"`
	RedisURL string   `json:"redis_url"`
	Prefix   string   `json:"prefix"`
}

type StorageConfig struct {
	Type      string `json:"type"`
	Dir       string `json:"dir"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	UseSSL    bool   `json:"use_ssl"`
}

type HTTPConfig struct {
	Addr              string   `json:"addr"`
	UploadRate        string   `json:"upload_rate"`
	MaxUploadMB       int      `json:"max_upload_mb"`
	StreamPoll        Duration `json:"stream_poll_interval"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`
}

type ReviewConfig struct {
	Policy   string `json:"policy"`
	Language string `json:"language"`
}

// Duration accepts either a Go duration string ("500ms") or a number of
// seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if n, ok := raw.(float64); ok {
		d.Duration = time.Duration(n * float64(time.Second))
		return nil
	}
	parsed, err := cast.ToDurationE(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

var AppConfig Config

func LoadConfig(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		logger.Error("failed to open config file", "error", err)
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&AppConfig); err != nil {
		logger.Error("failed to decode config file", "error", err)
		return err
	}

	ApplyEnv(&AppConfig)
	ApplyDefaults(&AppConfig)
	return nil
}

// LoadDotEnv reads a .env file into the process environment. A missing file is
// not an error.
func LoadDotEnv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Translation.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("JOB_WORKERS")); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.Jobs.Workers = n
		} else {
			logger.Error("invalid JOB_WORKERS", "value", v, "error", err)
		}
	}
}

func ApplyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	t := &cfg.Translation
	if t.Provider == "" {
		t.Provider = "openai"
	}
	if t.Model == "" {
		t.Model = "gpt-3.5-turbo"
	}
	if t.SourceLanguage == "" {
		t.SourceLanguage = "en"
	}
	if t.MinInterval.Duration <= 0 {
		t.MinInterval.Duration = 5 * time.Second
	}
	if t.MaxBackoff.Duration <= 0 {
		t.MaxBackoff.Duration = 2 * time.Minute
	}
	if t.BatchSize <= 0 {
		t.BatchSize = 5
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = 3
	}
	if t.RequestTimeout.Duration <= 0 {
		t.RequestTimeout.Duration = 60 * time.Second
	}

	j := &cfg.Jobs
	if j.Workers <= 0 {
		j.Workers = 2
	}
	if j.QueueSize <= 0 {
		j.QueueSize = 64
	}
	if j.WordBatchSize <= 0 {
		j.WordBatchSize = 50
	}
	if j.FlushMultiplier <= 0 {
		j.FlushMultiplier = 5
	}
	if j.MinWordLength <= 0 {
		j.MinWordLength = 2
	}
	if j.Timeout.Duration <= 0 {
		j.Timeout.Duration = 30 * time.Minute
	}
	if j.StuckAfter.Duration <= 0 {
		j.StuckAfter.Duration = j.Timeout.Duration + 10*time.Minute
	}
	if j.RequeueAfter.Duration <= 0 {
		j.RequeueAfter.Duration = time.Minute
	}
	if j.SweepSchedule == "" {
		j.SweepSchedule = "@every 1m"
	}

	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "gocache"
	}
	if cfg.Cache.TTL.Duration <= 0 {
		cfg.Cache.TTL.Duration = time.Hour
	}
	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 10000
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "translation:"
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "fs"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data/documents"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "documents"
	}

	h := &cfg.HTTP
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.UploadRate == "" {
		h.UploadRate = "10-M"
	}
	if h.MaxUploadMB <= 0 {
		h.MaxUploadMB = 50
	}
	if h.StreamPoll.Duration <= 0 {
		h.StreamPoll.Duration = 500 * time.Millisecond
	}
	if h.HeartbeatInterval.Duration <= 0 {
		h.HeartbeatInterval.Duration = 15 * time.Second
	}

	if cfg.Review.Policy == "" {
		cfg.Review.Policy = "sm2"
	}
	if cfg.Review.Language == "" {
		cfg.Review.Language = "en"
	}
}
