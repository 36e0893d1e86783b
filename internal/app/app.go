package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/handiism/pixiv-downloader/internal/cancel"
	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/download"
	transport "github.com/handiism/pixiv-downloader/internal/http"
	ioutils "github.com/handiism/pixiv-downloader/internal/io"
	"github.com/handiism/pixiv-downloader/internal/pixiv"
	"github.com/handiism/pixiv-downloader/internal/progress"
	"github.com/handiism/pixiv-downloader/internal/registry"
	"github.com/handiism/pixiv-downloader/internal/service"
	"github.com/handiism/pixiv-downloader/internal/task"
)

// App holds the long-lived components.
type App struct {
	Settings *config.Live
	Logger   *slog.Logger
	Tokens   *cancel.Registry
	Tasks    *task.Store
	Registry *registry.Switch
	Progress *progress.Broadcaster
	Client   *pixiv.Client
	Executor *download.Executor
	Service  *service.Service
}

// NewLogger builds a logger from the log_level and log_format settings.
func NewLogger(settings *config.Settings, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(settings.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(settings.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// DownloadPolicy is the retry policy for whole-file transfers.
func DownloadPolicy(s *config.Settings) ioutils.RetryPolicy {
	return ioutils.RetryPolicy{
		MaxAttempts: s.DownloadMaxRetries,
		Cooldown:    time.Duration(s.DownloadRetryCooldown * float64(time.Second)),
		Exponent:    s.DownloadRetryExponent,
		MaxDelay:    s.DownloadRetryMaxDelay.Duration,
	}
}

// FSPolicy is the retry policy for single file system calls.
func FSPolicy(s *config.Settings) ioutils.RetryPolicy {
	return ioutils.RetryPolicy{
		MaxAttempts: s.FSMaxRetries,
		Cooldown:    50 * time.Millisecond,
		Exponent:    2,
		MaxDelay:    2 * time.Second,
	}
}

// APIOptions configures the client for metadata requests, each bounded by
// RequestTimeout.
func APIOptions(s *config.Settings) transport.Options {
	return transport.Options{
		UserAgent:   s.UserAgent,
		Referer:     s.Referer,
		AccessToken: s.AccessToken,
		Timeout:     s.RequestTimeout.Duration,
	}
}

// TransferOptions configures the client for image transfers. It has no
// client timeout: a large page may take longer than any request ceiling,
// and the task context and item deadline bound the transfer instead.
func TransferOptions(s *config.Settings) transport.Options {
	opts := APIOptions(s)
	opts.Timeout = 0
	return opts
}

// New wires every component from live. logOut receives the log output.
func New(live *config.Live, logOut io.Writer) (*App, error) {
	settings := live.Get()
	logger := NewLogger(settings, logOut)

	tasks, err := task.Open(task.StoreOptions{
		Path:           settings.TasksPath(),
		HistoryPath:    settings.HistoryPath(),
		RetentionMax:   settings.TaskRetentionMax,
		RetentionFloor: settings.TaskRetentionFloor,
		HistoryMax:     settings.HistoryMax,
		Logger:         logger.With("component", "tasks"),
	})
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	reg, err := registry.NewSwitch(settings, logger.With("component", "registry"))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	apiClient := transport.NewClient(APIOptions(settings))
	transferClient := transport.NewClient(TransferOptions(settings))

	a := &App{
		Settings: live,
		Logger:   logger,
		Tokens: cancel.NewRegistry(cancel.Options{
			MaxTokens:    settings.MaxCancelTokens,
			MaxListeners: settings.MaxTokenListeners,
			MaxAge:       settings.TokenMaxAge.Duration,
			Logger:       logger.With("component", "tokens"),
		}),
		Tasks:    tasks,
		Registry: reg,
		Progress: progress.New(settings.ProgressThrottle.Duration, logger.With("component", "progress")),
		Client:   pixiv.NewClient(apiClient, settings.APIBaseURL),
	}
	a.Executor = download.NewExecutor(download.Options{
		Settings: live,
		Client:   a.Client,
		Files:    ioutils.NewOperator(transferClient, DownloadPolicy(settings), FSPolicy(settings), logger.With("component", "files")),
		Tokens:   a.Tokens,
		Tasks:    tasks,
		Registry: reg,
		Progress: a.Progress,
		Logger:   logger.With("component", "executor"),
	})
	a.Service = service.New(service.Options{
		Settings: live,
		Executor: a.Executor,
		Client:   a.Client,
		Tasks:    tasks,
		Registry: reg,
		Logger:   logger.With("component", "service"),
	})

	live.OnChange(func(s *config.Settings) {
		if err := reg.Apply(s); err != nil {
			logger.Error("switch registry backend", "backend", s.RegistryBackend, "error", err)
		}
	})
	return a, nil
}

// Run sweeps stale cancellation tokens until ctx is done.
func (a *App) Run(ctx context.Context) {
	a.Tokens.Run(ctx, a.Settings.Get().TokenSweepInterval.Duration)
}

// Close releases the registry backend.
func (a *App) Close() error {
	return a.Registry.Close()
}
