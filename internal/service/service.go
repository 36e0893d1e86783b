package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/download"
	"github.com/handiism/pixiv-downloader/internal/model"
	"github.com/handiism/pixiv-downloader/internal/registry"
	"github.com/handiism/pixiv-downloader/internal/task"
)

// ErrSameBackend is returned when migrating a registry onto itself.
var ErrSameBackend = errors.New("source and destination backends are the same")

// Executor runs tasks. It is implemented by download.Executor.
type Executor interface {
	StartSingle(ctx context.Context, artworkID int64, opts task.Options) (task.Task, error)
	StartBatch(items []task.BatchItem, meta *task.Meta, opts task.Options, skipped int) (task.Task, error)
	Pause(id string) (task.Task, error)
	Resume(ctx context.Context, id string) (task.Task, error)
	Cancel(id string) (task.Task, error)
}

// Request carries the per-download choices. Zero values fall back to
// the live settings.
type Request struct {
	Size         string `json:"size,omitempty"`
	SkipExisting *bool  `json:"skip_existing,omitempty"`
	Concurrency  int    `json:"concurrency,omitempty"`
}

// Options wires a Service.
type Options struct {
	Settings *config.Live
	Executor Executor
	Client   download.ContentClient
	Tasks    *task.Store
	Registry registry.Registry
	Logger   *slog.Logger
}

// Service is the download façade.
type Service struct {
	settings *config.Live
	exec     Executor
	client   download.ContentClient
	tasks    *task.Store
	registry registry.Registry
	maint    *registry.Maintenance
	logger   *slog.Logger
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		settings: opts.Settings,
		exec:     opts.Executor,
		client:   opts.Client,
		tasks:    opts.Tasks,
		registry: opts.Registry,
		maint:    registry.NewMaintenance(opts.Registry, opts.Logger),
		logger:   opts.Logger,
	}
}

func (s *Service) options(req Request) task.Options {
	settings := s.settings.Get()
	opts := task.Options{
		Size:         req.Size,
		SkipExisting: settings.SkipExisting,
		Concurrency:  req.Concurrency,
	}
	if opts.Size == "" {
		opts.Size = settings.ImageSize
	}
	if req.SkipExisting != nil {
		opts.SkipExisting = *req.SkipExisting
	}
	return opts
}

// DownloadArtwork starts a single-artwork task.
func (s *Service) DownloadArtwork(ctx context.Context, artworkID int64, req Request) (task.Task, error) {
	if artworkID <= 0 {
		return task.Task{}, fmt.Errorf("invalid artwork id %d", artworkID)
	}
	return s.exec.StartSingle(ctx, artworkID, s.options(req))
}

// DownloadMultiple starts a batch over an explicit list of artwork ids.
// Duplicate ids are collapsed.
func (s *Service) DownloadMultiple(ctx context.Context, ids []int64, req Request) (task.Task, error) {
	if len(ids) == 0 {
		return task.Task{}, errors.New("no artwork ids given")
	}
	seen := make(map[int64]bool, len(ids))
	items := make([]task.BatchItem, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return task.Task{}, fmt.Errorf("invalid artwork id %d", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, task.BatchItem{ID: id})
	}
	return s.startBatch(ctx, items, &task.Meta{Type: task.TypeMultiple}, req)
}

// DownloadArtist starts a batch over an artist's artworks, paging through
// the listing until limit items are collected. limit <= 0 means all.
func (s *Service) DownloadArtist(ctx context.Context, artistID int64, limit int, req Request) (task.Task, error) {
	details, err := collect(limit, func(offset int) (*model.Listing, error) {
		return s.client.ArtistArtworks(ctx, artistID, offset)
	})
	if err != nil {
		return task.Task{}, fmt.Errorf("list artist %d: %w", artistID, err)
	}

	meta := &task.Meta{Type: task.TypeArtist, ArtistID: artistID}
	if len(details) > 0 {
		meta.ArtistName = details[0].ArtistName
	}
	return s.startBatch(ctx, batchItems(details), meta, req)
}

// DownloadRanking starts a batch over a ranking, paging like DownloadArtist.
func (s *Service) DownloadRanking(ctx context.Context, mode, rankingType string, limit int, req Request) (task.Task, error) {
	details, err := collect(limit, func(offset int) (*model.Listing, error) {
		return s.client.Ranking(ctx, mode, rankingType, offset)
	})
	if err != nil {
		return task.Task{}, fmt.Errorf("list ranking %s/%s: %w", mode, rankingType, err)
	}

	meta := &task.Meta{Type: task.TypeRanking, RankingMode: mode, RankingType: rankingType}
	return s.startBatch(ctx, batchItems(details), meta, req)
}

// startBatch drops already registered items unless skipping is disabled
// and hands the rest to the executor.
func (s *Service) startBatch(ctx context.Context, items []task.BatchItem, meta *task.Meta, req Request) (task.Task, error) {
	opts := s.options(req)

	skipped := 0
	if opts.SkipExisting {
		kept := items[:0:0]
		for _, item := range items {
			done, err := s.registry.IsDownloaded(ctx, item.ID)
			if err != nil {
				return task.Task{}, fmt.Errorf("check registry: %w", err)
			}
			if done {
				skipped++
				continue
			}
			kept = append(kept, item)
		}
		items = kept
	}

	if skipped > 0 {
		s.logger.Info("skipping registered artworks", "type", meta.Type, "skipped", skipped, "remaining", len(items))
	}
	return s.exec.StartBatch(items, meta, opts, skipped)
}

// collect pages through a listing by offset.
func collect(limit int, page func(offset int) (*model.Listing, error)) ([]model.ArtworkDetail, error) {
	var out []model.ArtworkDetail
	offset := 0
	for limit <= 0 || len(out) < limit {
		listing, err := page(offset)
		if err != nil {
			return nil, err
		}
		out = append(out, listing.Items...)
		offset += len(listing.Items)
		if !listing.HasMore || len(listing.Items) == 0 {
			break
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func batchItems(details []model.ArtworkDetail) []task.BatchItem {
	items := make([]task.BatchItem, len(details))
	for i, d := range details {
		items[i] = task.BatchItem{ID: d.ID, Title: d.Title, Artist: d.ArtistName}
	}
	return items
}

// Task returns the task with id.
func (s *Service) Task(id string) (task.Task, error) { return s.tasks.Get(id) }

// Tasks returns every stored task.
func (s *Service) Tasks() []task.Task { return s.tasks.ListAll() }

// ActiveTasks returns the tasks that are not in a terminal state.
func (s *Service) ActiveTasks() []task.Task { return s.tasks.ListActive() }

// History returns finished task records, newest first.
func (s *Service) History() []task.HistoryRecord { return s.tasks.History() }

// Pause pauses a running task.
func (s *Service) Pause(id string) (task.Task, error) { return s.exec.Pause(id) }

// Resume resumes a paused, partial or failed task.
func (s *Service) Resume(ctx context.Context, id string) (task.Task, error) {
	return s.exec.Resume(ctx, id)
}

// Cancel cancels a task.
func (s *Service) Cancel(id string) (task.Task, error) { return s.exec.Cancel(id) }

// RegistryStats reports the size of the active registry.
func (s *Service) RegistryStats(ctx context.Context) (registry.Stats, error) {
	return s.registry.Stats(ctx)
}

// ExportRegistry dumps the active registry.
func (s *Service) ExportRegistry(ctx context.Context) (*registry.Snapshot, error) {
	return s.registry.Export(ctx)
}

// ImportRegistry merges snap into the active registry.
func (s *Service) ImportRegistry(ctx context.Context, snap *registry.Snapshot) (registry.ImportResult, error) {
	if snap == nil {
		return registry.ImportResult{}, errors.New("empty snapshot")
	}
	return s.registry.Import(ctx, snap)
}

// RebuildRegistry scans the downloads directory and registers every valid
// artwork found there.
func (s *Service) RebuildRegistry(ctx context.Context) (registry.RebuildResult, error) {
	settings := s.settings.Get()
	return s.maint.Rebuild(ctx, os.DirFS(settings.DownloadsPath), model.NewResolver(settings.DirNameFormat))
}

// CleanupRegistry drops registry entries whose artwork is gone from disk.
func (s *Service) CleanupRegistry(ctx context.Context) (registry.CleanupResult, error) {
	settings := s.settings.Get()
	return s.maint.Cleanup(ctx, os.DirFS(settings.DownloadsPath), model.NewResolver(settings.DirNameFormat))
}

// MigrateRegistry copies the active registry into the backend named to.
// The active backend is left unchanged; switch it through the settings.
func (s *Service) MigrateRegistry(ctx context.Context, to string, mode registry.MigrateMode) (*registry.MigrateResult, error) {
	if to == s.registry.Backend() {
		return nil, fmt.Errorf("%w: %s", ErrSameBackend, to)
	}
	dst, settings, err := s.openBackend(to)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	return registry.Migrate(ctx, s.registry, dst, mode, settings.BackupDir(), s.logger)
}

// RollbackRegistry restores the backend named to from a pre-migration
// backup. An empty name targets the active backend.
func (s *Service) RollbackRegistry(ctx context.Context, to, backup string) error {
	if to == "" || to == s.registry.Backend() {
		return registry.Rollback(ctx, s.registry, backup)
	}
	dst, _, err := s.openBackend(to)
	if err != nil {
		return err
	}
	defer dst.Close()

	return registry.Rollback(ctx, dst, backup)
}

// CompareRegistries diffs the active registry against the other backend.
func (s *Service) CompareRegistries(ctx context.Context) (*registry.Diff, error) {
	other := config.BackendSQLite
	if s.registry.Backend() == config.BackendSQLite {
		other = config.BackendJSON
	}
	reg, _, err := s.openBackend(other)
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	return registry.Compare(ctx, s.registry, reg)
}

func (s *Service) openBackend(backend string) (registry.Registry, *config.Settings, error) {
	settings := *s.settings.Get()
	settings.RegistryBackend = backend
	reg, err := registry.Open(&settings, s.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s registry: %w", backend, err)
	}
	return reg, &settings, nil
}
