package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/model"
	"github.com/handiism/pixiv-downloader/internal/registry"
	"github.com/handiism/pixiv-downloader/internal/task"
)

type batchCall struct {
	items   []task.BatchItem
	meta    *task.Meta
	opts    task.Options
	skipped int
}

type fakeExecutor struct {
	single  []task.Options
	batches []batchCall
}

func (f *fakeExecutor) StartSingle(ctx context.Context, id int64, opts task.Options) (task.Task, error) {
	f.single = append(f.single, opts)
	return task.Task{ID: "single", ArtworkID: id, Options: opts}, nil
}

func (f *fakeExecutor) StartBatch(items []task.BatchItem, meta *task.Meta, opts task.Options, skipped int) (task.Task, error) {
	f.batches = append(f.batches, batchCall{items, meta, opts, skipped})
	return task.Task{ID: "batch", Items: items, SkippedCount: skipped}, nil
}

func (f *fakeExecutor) Pause(id string) (task.Task, error) { return task.Task{ID: id}, nil }

func (f *fakeExecutor) Resume(ctx context.Context, id string) (task.Task, error) {
	return task.Task{ID: id}, nil
}

func (f *fakeExecutor) Cancel(id string) (task.Task, error) { return task.Task{ID: id}, nil }

// pagedClient serves listings of ids in pages of size pageSize.
type pagedClient struct {
	ids      []int64
	pageSize int
	calls    []int
	err      error
}

func (c *pagedClient) page(offset int) (*model.Listing, error) {
	c.calls = append(c.calls, offset)
	if c.err != nil {
		return nil, c.err
	}
	end := min(offset+c.pageSize, len(c.ids))
	l := &model.Listing{HasMore: end < len(c.ids)}
	for _, id := range c.ids[offset:end] {
		l.Items = append(l.Items, model.ArtworkDetail{ID: id, Title: "t", ArtistName: "Alice", PageCount: 1})
	}
	return l, nil
}

func (c *pagedClient) ArtworkDetail(ctx context.Context, id int64) (*model.ArtworkDetail, error) {
	return nil, errors.New("not used")
}

func (c *pagedClient) ArtworkImages(ctx context.Context, id int64) ([]model.ImageURLs, error) {
	return nil, errors.New("not used")
}

func (c *pagedClient) ArtistArtworks(ctx context.Context, artistID int64, offset int) (*model.Listing, error) {
	return c.page(offset)
}

func (c *pagedClient) Ranking(ctx context.Context, mode, rankingType string, offset int) (*model.Listing, error) {
	return c.page(offset)
}

type fixture struct {
	svc      *Service
	exec     *fakeExecutor
	client   *pagedClient
	reg      registry.Registry
	settings *config.Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	settings := config.DefaultSettings()
	settings.DownloadsPath = filepath.Join(dir, "downloads")
	settings.DataDir = filepath.Join(dir, "data")

	reg, err := registry.Open(settings, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	tasks, err := task.Open(task.StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		exec:     &fakeExecutor{},
		client:   &pagedClient{pageSize: 3},
		reg:      reg,
		settings: settings,
	}
	f.svc = New(Options{
		Settings: config.NewStatic(settings),
		Executor: f.exec,
		Client:   f.client,
		Tasks:    tasks,
		Registry: reg,
	})
	return f
}

func TestCollect(t *testing.T) {
	ids := []int64{1, 2, 3, 4, 5, 6, 7}
	tests := []struct {
		name    string
		limit   int
		want    int
		offsets []int
	}{
		{"all", 0, 7, []int{0, 3, 6}},
		{"within first page", 2, 2, []int{0}},
		{"exact page boundary", 3, 3, []int{0}},
		{"spans pages", 5, 5, []int{0, 3}},
		{"more than available", 50, 7, []int{0, 3, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &pagedClient{ids: ids, pageSize: 3}
			got, err := collect(tt.limit, c.page)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d items, want %d", len(got), tt.want)
			}
			if len(c.calls) != len(tt.offsets) {
				t.Fatalf("offsets = %v, want %v", c.calls, tt.offsets)
			}
			for i := range c.calls {
				if c.calls[i] != tt.offsets[i] {
					t.Errorf("offsets = %v, want %v", c.calls, tt.offsets)
					break
				}
			}
		})
	}
}

func TestDownloadMultiple_FiltersRegistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Add(ctx, "alice", 2)
	f.reg.Add(ctx, "alice", 4)

	got, err := f.svc.DownloadMultiple(ctx, []int64{1, 2, 3, 3, 4}, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if got.SkippedCount != 2 {
		t.Errorf("SkippedCount = %d, want 2", got.SkippedCount)
	}
	call := f.exec.batches[0]
	if len(call.items) != 2 || call.items[0].ID != 1 || call.items[1].ID != 3 {
		t.Errorf("items = %+v, want ids 1 and 3", call.items)
	}
	if call.meta.Type != task.TypeMultiple {
		t.Errorf("meta type = %q", call.meta.Type)
	}
	if call.opts.Size != model.SizeOriginal {
		t.Errorf("size = %q, want configured default", call.opts.Size)
	}
}

func TestDownloadMultiple_SkipExistingDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Add(ctx, "alice", 2)

	off := false
	if _, err := f.svc.DownloadMultiple(ctx, []int64{1, 2}, Request{SkipExisting: &off, Size: model.SizeLarge}); err != nil {
		t.Fatal(err)
	}
	call := f.exec.batches[0]
	if len(call.items) != 2 || call.skipped != 0 {
		t.Errorf("items = %d skipped = %d, want 2 and 0", len(call.items), call.skipped)
	}
	if call.opts.SkipExisting || call.opts.Size != model.SizeLarge {
		t.Errorf("opts = %+v", call.opts)
	}
}

func TestDownloadMultiple_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.DownloadMultiple(context.Background(), nil, Request{}); err == nil {
		t.Error("expected error for empty list")
	}
	if _, err := f.svc.DownloadMultiple(context.Background(), []int64{1, -2}, Request{}); err == nil {
		t.Error("expected error for negative id")
	}
	if len(f.exec.batches) != 0 {
		t.Error("executor called for rejected input")
	}
}

func TestDownloadArtist_PaginatesToLimit(t *testing.T) {
	f := newFixture(t)
	f.client.ids = []int64{10, 11, 12, 13, 14, 15, 16, 17}
	f.reg.Add(context.Background(), "alice", 11)

	got, err := f.svc.DownloadArtist(context.Background(), 99, 5, Request{})
	if err != nil {
		t.Fatal(err)
	}
	call := f.exec.batches[0]
	if len(call.items)+call.skipped != 5 || got.SkippedCount != 1 {
		t.Errorf("items = %d skipped = %d, want 4 + 1", len(call.items), call.skipped)
	}
	if call.meta.Type != task.TypeArtist || call.meta.ArtistID != 99 || call.meta.ArtistName != "Alice" {
		t.Errorf("meta = %+v", call.meta)
	}
}

func TestDownloadRanking_PropagatesListingError(t *testing.T) {
	f := newFixture(t)
	f.client.err = errors.New("boom")

	if _, err := f.svc.DownloadRanking(context.Background(), "day", "illust", 10, Request{}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.exec.batches) != 0 {
		t.Error("batch started despite listing failure")
	}
}

func TestDownloadRanking_Meta(t *testing.T) {
	f := newFixture(t)
	f.client.ids = []int64{1, 2}

	if _, err := f.svc.DownloadRanking(context.Background(), "week", "manga", 0, Request{}); err != nil {
		t.Fatal(err)
	}
	meta := f.exec.batches[0].meta
	if meta.Type != task.TypeRanking || meta.RankingMode != "week" || meta.RankingType != "manga" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestRebuildAndCleanupRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dir := filepath.Join(f.settings.DownloadsPath, "alice", "42_title")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	info := `{"artwork_id":42,"title":"title","artist":"alice","page_count":1}`
	if err := os.WriteFile(filepath.Join(dir, model.InfoFileName), []byte(info), 0644); err != nil {
		t.Fatal(err)
	}

	rebuilt, err := f.svc.RebuildRegistry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.Added != 1 {
		t.Errorf("rebuild added %d, want 1", rebuilt.Added)
	}
	if ok, _ := f.reg.IsDownloaded(ctx, 42); !ok {
		t.Fatal("artwork 42 not registered")
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	cleaned, err := f.svc.CleanupRegistry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned.Removed != 1 {
		t.Errorf("cleanup removed %d, want 1", cleaned.Removed)
	}
}

func TestMigrateAndCompareRegistries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Add(ctx, "alice", 1)
	f.reg.Add(ctx, "bob", 2)

	if _, err := f.svc.MigrateRegistry(ctx, config.BackendJSON, registry.MigrateMerge); !errors.Is(err, ErrSameBackend) {
		t.Errorf("same backend err = %v", err)
	}

	diff, err := f.svc.CompareRegistries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.OnlyInA) != 2 {
		t.Errorf("before migration OnlyInA = %v", diff.OnlyInA)
	}

	res, err := f.svc.MigrateRegistry(ctx, config.BackendSQLite, registry.MigrateMerge)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported.Added != 2 || !res.Diff.Equal() {
		t.Errorf("migrate result = %+v diff = %+v", res.Imported, res.Diff)
	}

	diff, err = f.svc.CompareRegistries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !diff.Equal() {
		t.Errorf("after migration diff = %+v", diff)
	}

	if err := f.svc.RollbackRegistry(ctx, config.BackendSQLite, res.Backup); err != nil {
		t.Fatalf("RollbackRegistry: %v", err)
	}
	diff, err = f.svc.CompareRegistries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.OnlyInA) != 2 {
		t.Errorf("after rollback OnlyInA = %v", diff.OnlyInA)
	}
}
