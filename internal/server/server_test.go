package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/download"
	"github.com/handiism/pixiv-downloader/internal/model"
	"github.com/handiism/pixiv-downloader/internal/progress"
	"github.com/handiism/pixiv-downloader/internal/registry"
	"github.com/handiism/pixiv-downloader/internal/service"
	"github.com/handiism/pixiv-downloader/internal/task"
)

type stubExecutor struct {
	tasks *task.Store
}

func (e *stubExecutor) StartSingle(ctx context.Context, id int64, opts task.Options) (task.Task, error) {
	return e.tasks.Create(task.KindSingle, task.Task{TotalFiles: 1, ArtworkID: id, Options: opts})
}

func (e *stubExecutor) StartBatch(items []task.BatchItem, meta *task.Meta, opts task.Options, skipped int) (task.Task, error) {
	return e.tasks.Create(task.KindBatch, task.Task{TotalFiles: len(items), Items: items, Meta: meta, SkippedCount: skipped})
}

func (e *stubExecutor) Pause(id string) (task.Task, error) {
	t, err := e.tasks.Get(id)
	if err != nil {
		return t, err
	}
	return t, download.ErrNotRunning
}

func (e *stubExecutor) Resume(ctx context.Context, id string) (task.Task, error) {
	return e.tasks.Get(id)
}

func (e *stubExecutor) Cancel(id string) (task.Task, error) {
	return e.tasks.Update(id, func(t *task.Task) error {
		t.State = task.StateCancelling
		return nil
	})
}

type nopClient struct{}

func (nopClient) ArtworkDetail(ctx context.Context, id int64) (*model.ArtworkDetail, error) {
	return nil, nil
}

func (nopClient) ArtworkImages(ctx context.Context, id int64) ([]model.ImageURLs, error) {
	return nil, nil
}

func (nopClient) ArtistArtworks(ctx context.Context, artistID int64, offset int) (*model.Listing, error) {
	return &model.Listing{}, nil
}

func (nopClient) Ranking(ctx context.Context, mode, rankingType string, offset int) (*model.Listing, error) {
	return &model.Listing{Items: []model.ArtworkDetail{{ID: 5}}}, nil
}

type fixture struct {
	srv         *httptest.Server
	tasks       *task.Store
	broadcaster *progress.Broadcaster
}

func newFixture(t *testing.T, mutate func(*config.Settings)) *fixture {
	t.Helper()
	dir := t.TempDir()
	settings := config.DefaultSettings()
	settings.DownloadsPath = filepath.Join(dir, "downloads")
	settings.DataDir = filepath.Join(dir, "data")
	settings.StreamHeartbeat = config.Duration{Duration: time.Hour}
	if mutate != nil {
		mutate(settings)
	}
	live := config.NewStatic(settings)

	tasks, err := task.Open(task.StoreOptions{})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.Open(settings, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	b := progress.New(10*time.Millisecond, nil)
	svc := service.New(service.Options{
		Settings: live,
		Executor: &stubExecutor{tasks: tasks},
		Client:   nopClient{},
		Tasks:    tasks,
		Registry: reg,
	})
	srv := httptest.NewServer(New(svc, b, live, nil).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, tasks: tasks, broadcaster: b}
}

type reply struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *fixture) call(t *testing.T, method, path, body string) (int, reply) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp.StatusCode, r
}

func TestRoutes(t *testing.T) {
	f := newFixture(t, nil)
	existing, _ := f.tasks.Create(task.KindSingle, task.Task{TotalFiles: 1, ArtworkID: 9})

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		status  int
		success bool
	}{
		{"download artwork", "POST", "/api/downloads/artwork", `{"artwork_id": 123, "size": "large"}`, 200, true},
		{"download artwork missing id", "POST", "/api/downloads/artwork", `{}`, 400, false},
		{"download artwork bad json", "POST", "/api/downloads/artwork", `{`, 400, false},
		{"download multiple", "POST", "/api/downloads/multiple", `{"ids": [1, 2]}`, 200, true},
		{"download multiple empty", "POST", "/api/downloads/multiple", `{"ids": []}`, 400, false},
		{"download artist", "POST", "/api/downloads/artist", `{"artist_id": 7, "limit": 3}`, 200, true},
		{"download ranking", "POST", "/api/downloads/ranking", `{"mode": "week", "type": "manga"}`, 200, true},
		{"download ranking bad mode", "POST", "/api/downloads/ranking", `{"mode": "year"}`, 400, false},
		{"list tasks", "GET", "/api/tasks", "", 200, true},
		{"active tasks", "GET", "/api/tasks/active", "", 200, true},
		{"get task", "GET", "/api/tasks/" + existing.ID, "", 200, true},
		{"unknown task", "GET", "/api/tasks/nope", "", 404, false},
		{"pause not running", "POST", "/api/tasks/" + existing.ID + "/pause", "", 409, false},
		{"cancel", "POST", "/api/tasks/" + existing.ID + "/cancel", "", 200, true},
		{"history", "GET", "/api/history", "", 200, true},
		{"registry stats", "GET", "/api/registry/stats", "", 200, true},
		{"registry import", "POST", "/api/registry/import", `{"version": 1, "artists": {"alice": [1, 2]}}`, 200, true},
		{"registry export", "GET", "/api/registry/export", "", 200, true},
		{"registry migrate same backend", "POST", "/api/registry/migrate", `{"to": "json"}`, 409, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, r := f.call(t, tt.method, tt.path, tt.body)
			if status != tt.status || r.Success != tt.success {
				t.Errorf("got %d success=%v (%s), want %d success=%v", status, r.Success, r.Error, tt.status, tt.success)
			}
			if !r.Success && r.Error == "" {
				t.Error("failure without an error message")
			}
		})
	}
}

func TestRegistryImportThenExport(t *testing.T) {
	f := newFixture(t, nil)
	f.call(t, "POST", "/api/registry/import", `{"version": 1, "artists": {"alice": [1, 2], "bob": [3]}}`)

	_, r := f.call(t, "GET", "/api/registry/export", "")
	var snap registry.Snapshot
	if err := json.Unmarshal(r.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Artworks() != 3 || snap.Version != registry.SnapshotVersion {
		t.Errorf("snapshot = %+v", snap)
	}
}

type event struct {
	name string
	data string
}

func readEvents(t *testing.T, f *fixture, id string) <-chan event {
	t.Helper()
	resp, err := http.Get(f.srv.URL + "/api/tasks/" + id + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	ch := make(chan event, 64)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		sc := bufio.NewScanner(resp.Body)
		var ev event
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "":
				ch <- ev
				ev = event{}
			}
		}
	}()
	return ch
}

func next(t *testing.T, ch <-chan event) event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	return event{}
}

func TestStream_ProgressUntilCompleted(t *testing.T) {
	f := newFixture(t, nil)
	created, _ := f.tasks.Create(task.KindSingle, task.Task{TotalFiles: 2, ArtworkID: 1})

	events := readEvents(t, f, created.ID)
	if ev := next(t, events); ev.name != EventConnected {
		t.Fatalf("first event = %s", ev.name)
	}
	if ev := next(t, events); ev.name != EventProgress {
		t.Fatalf("second event = %s", ev.name)
	}

	mid, _ := f.tasks.Update(created.ID, func(t *task.Task) error { t.CompletedFiles = 1; return nil })
	f.broadcaster.Publish(mid)
	done, _ := f.tasks.Update(created.ID, func(t *task.Task) error {
		t.CompletedFiles = 2
		t.State = task.StateCompleted
		return nil
	})
	f.broadcaster.Publish(done)

	var last event
	for ev := range events {
		if ev.name == EventHeartbeat {
			continue
		}
		last = ev
	}
	if last.name != EventCompleted {
		t.Fatalf("last event = %s, want completed", last.name)
	}
	var got task.Task
	if err := json.Unmarshal([]byte(last.data), &got); err != nil {
		t.Fatal(err)
	}
	if got.State != task.StateCompleted || got.CompletedFiles != 2 {
		t.Errorf("completed payload = %+v", got)
	}
}

func TestStream_TerminalTaskClosesImmediately(t *testing.T) {
	f := newFixture(t, nil)
	created, _ := f.tasks.Create(task.KindBatch, task.Task{State: task.StateCompleted})

	var names []string
	for ev := range readEvents(t, f, created.ID) {
		names = append(names, ev.name)
	}
	want := []string{EventConnected, EventProgress, EventCompleted}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", names, want)
	}
}

func TestStream_PausedTaskEndsStream(t *testing.T) {
	f := newFixture(t, nil)
	created, _ := f.tasks.Create(task.KindSingle, task.Task{TotalFiles: 2, ArtworkID: 1})

	events := readEvents(t, f, created.ID)
	next(t, events) // connected
	next(t, events) // progress

	for f.broadcaster.Subscribers(created.ID) == 0 {
		time.Sleep(time.Millisecond)
	}
	paused, _ := f.tasks.Update(created.ID, func(t *task.Task) error {
		t.State = task.StatePaused
		return nil
	})
	f.broadcaster.Publish(paused)

	var names []string
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			names = append(names, ev.name)
		case <-timeout:
			t.Fatalf("stream still open after pause, events = %v", names)
		}
	}
	if len(names) == 0 || names[len(names)-1] != EventPaused {
		t.Errorf("events = %v, want trailing %s", names, EventPaused)
	}
	if n := f.broadcaster.Subscribers(created.ID); n != 0 {
		t.Errorf("Subscribers = %d after pause, want 0", n)
	}
}

func TestStream_HeartbeatsKeepConnectionAlive(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) {
		s.StreamHeartbeat = config.Duration{Duration: 20 * time.Millisecond}
		s.StreamTimeout = config.Duration{Duration: 100 * time.Millisecond}
	})
	created, _ := f.tasks.Create(task.KindSingle, task.Task{TotalFiles: 1})

	events := readEvents(t, f, created.ID)
	deadline := time.After(400 * time.Millisecond)
	heartbeats := 0
	for waiting := true; waiting; {
		select {
		case ev, ok := <-events:
			if !ok || ev.name == EventTimeout {
				t.Fatalf("stream ended while heartbeats were flowing (heartbeats=%d)", heartbeats)
			}
			if ev.name == EventHeartbeat {
				heartbeats++
			}
		case <-deadline:
			waiting = false
		}
	}
	if heartbeats < 5 {
		t.Errorf("heartbeats = %d, want at least 5", heartbeats)
	}

	done, _ := f.tasks.Update(created.ID, func(t *task.Task) error {
		t.CompletedFiles = 1
		t.State = task.StateCompleted
		return nil
	})
	f.broadcaster.Publish(done)
	var last event
	for ev := range events {
		last = ev
	}
	if last.name != EventCompleted {
		t.Errorf("last event = %s, want completed", last.name)
	}
}

func TestStream_IdleTimeout(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) {
		s.StreamTimeout = config.Duration{Duration: 100 * time.Millisecond}
	})
	created, _ := f.tasks.Create(task.KindSingle, task.Task{TotalFiles: 1})

	var last event
	for ev := range readEvents(t, f, created.ID) {
		last = ev
	}
	if last.name != EventTimeout {
		t.Errorf("last event = %s, want timeout", last.name)
	}
}

func TestStream_UnknownTask(t *testing.T) {
	f := newFixture(t, nil)
	status, r := f.call(t, "GET", "/api/tasks/missing/stream", "")
	if status != http.StatusNotFound || r.Success {
		t.Errorf("got %d %+v", status, r)
	}
}
