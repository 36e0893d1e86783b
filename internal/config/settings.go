package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/handiism/pixiv-downloader/internal/model"
)

// Registry backends selectable through Settings.RegistryBackend.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Duration is a time.Duration that serialises as a Go duration string ("500ms", "2m").
type Duration struct {
	time.Duration
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	d.Duration = time.Duration(n)
	return nil
}

// Settings holds all configuration options.
type Settings struct {
	// Storage
	DownloadsPath  string `json:"downloads_path"`
	DataDir        string `json:"data_dir"`
	DirNameFormat  string `json:"dir_name_format"`
	FileNameFormat string `json:"file_name_format"`
	ImageSize      string `json:"image_size"` // original, large, medium, square_medium

	// Remote service
	APIBaseURL     string   `json:"api_base_url"`
	AccessToken    string   `json:"access_token"`
	UserAgent      string   `json:"user_agent"`
	Referer        string   `json:"referer"`
	RequestTimeout Duration `json:"request_timeout"`

	// Download settings
	DownloadMaxRetries    int      `json:"download_max_retries"`
	DownloadRetryCooldown float64  `json:"download_retry_cooldown"`
	DownloadRetryExponent float64  `json:"download_retry_exponent"`
	DownloadRetryMaxDelay Duration `json:"download_retry_max_delay"`
	FSMaxRetries          int      `json:"fs_max_retries"`
	BatchConcurrency      int      `json:"batch_concurrency"`
	ItemTimeout           Duration `json:"item_timeout"`
	SkipExisting          bool     `json:"skip_existing"`

	// Registry
	RegistryBackend string `json:"registry_backend"` // json, sqlite

	// Cancellation pool
	MaxCancelTokens    int      `json:"max_cancel_tokens"`
	MaxTokenListeners  int      `json:"max_token_listeners"`
	TokenMaxAge        Duration `json:"token_max_age"`
	TokenSweepInterval Duration `json:"token_sweep_interval"`

	// Task retention
	TaskRetentionMax   int `json:"task_retention_max"`
	TaskRetentionFloor int `json:"task_retention_floor"`
	HistoryMax         int `json:"history_max"`

	// Progress streaming
	ProgressThrottle Duration `json:"progress_throttle"`
	StreamHeartbeat  Duration `json:"stream_heartbeat"`
	StreamTimeout    Duration `json:"stream_timeout"`

	// Server and logging
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level"`  // debug, info, warn, error
	LogFormat  string `json:"log_format"` // text, json
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		DownloadsPath:  filepath.Join(homeDir, "Pictures", "Pixiv"),
		DataDir:        filepath.Join(homeDir, ".pixiv-downloader"),
		DirNameFormat:  model.DefaultDirNameFormat,
		FileNameFormat: model.DefaultFileNameFormat,
		ImageSize:      model.SizeOriginal,

		APIBaseURL:     "https://app-api.pixiv.net",
		UserAgent:      "PixivAndroidApp/5.0.234 (Android 11; Pixel 5)",
		Referer:        "https://app-api.pixiv.net/",
		RequestTimeout: Duration{60 * time.Second},

		DownloadMaxRetries:    3,
		DownloadRetryCooldown: 0.5,
		DownloadRetryExponent: 2.0,
		DownloadRetryMaxDelay: Duration{10 * time.Second},
		FSMaxRetries:          5,
		BatchConcurrency:      3,
		ItemTimeout:           Duration{5 * time.Minute},
		SkipExisting:          true,

		RegistryBackend: BackendJSON,

		MaxCancelTokens:    50,
		MaxTokenListeners:  10,
		TokenMaxAge:        Duration{6 * time.Hour},
		TokenSweepInterval: Duration{5 * time.Minute},

		TaskRetentionMax:   100,
		TaskRetentionFloor: 50,
		HistoryMax:         500,

		ProgressThrottle: Duration{500 * time.Millisecond},
		StreamHeartbeat:  Duration{15 * time.Second},
		StreamTimeout:    Duration{30 * time.Minute},

		ListenAddr: "127.0.0.1:8085",
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load reads settings from a JSON file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a JSON file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the rest of the program cannot run with.
func (s *Settings) Validate() error {
	switch s.RegistryBackend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown registry backend %q", s.RegistryBackend)
	}

	switch s.ImageSize {
	case model.SizeOriginal, model.SizeLarge, model.SizeMedium, model.SizeSquareMedium:
	default:
		return fmt.Errorf("unknown image size %q", s.ImageSize)
	}

	if s.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be at least 1, got %d", s.BatchConcurrency)
	}
	if s.TaskRetentionFloor > s.TaskRetentionMax {
		return fmt.Errorf("task_retention_floor (%d) exceeds task_retention_max (%d)", s.TaskRetentionFloor, s.TaskRetentionMax)
	}

	return nil
}

// RegistryPath returns the path of the flat-file registry.
func (s *Settings) RegistryPath() string {
	return filepath.Join(s.DataDir, "registry.json")
}

// TasksPath returns the path of the task record file.
func (s *Settings) TasksPath() string {
	return filepath.Join(s.DataDir, "tasks.json")
}

// HistoryPath returns the path of the task history file.
func (s *Settings) HistoryPath() string {
	return filepath.Join(s.DataDir, "history.json")
}

// BackupDir returns the directory holding pre-migration registry snapshots.
func (s *Settings) BackupDir() string {
	return filepath.Join(s.DataDir, "backups")
}

// ToPathConfig converts settings to PathConfig.
func (s *Settings) ToPathConfig() *model.PathConfig {
	return &model.PathConfig{
		DownloadsPath:  s.DownloadsPath,
		DirNameFormat:  s.DirNameFormat,
		FileNameFormat: s.FileNameFormat,
	}
}
