package task

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, opts StoreOptions) *Store {
	t.Helper()
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestTask_Progress(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want int
	}{
		{"empty downloading", Task{State: StateDownloading}, 0},
		{"empty completed", Task{State: StateCompleted}, 100},
		{"one of three", Task{TotalFiles: 3, CompletedFiles: 1}, 33},
		{"two of three", Task{TotalFiles: 3, CompletedFiles: 2}, 67},
		{"all", Task{TotalFiles: 4, CompletedFiles: 4}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Progress(); got != tt.want {
				t.Errorf("Progress() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTask_PushRecentKeepsLastFive(t *testing.T) {
	var task Task
	for i := int64(1); i <= 8; i++ {
		task.PushRecent(RecentItem{ID: i})
	}
	if len(task.Recent) != RecentLimit {
		t.Fatalf("len(Recent) = %d, want %d", len(task.Recent), RecentLimit)
	}
	if task.Recent[0].ID != 4 || task.Recent[4].ID != 8 {
		t.Errorf("Recent = %+v", task.Recent)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDownloading, StatePausing, true},
		{StatePausing, StatePaused, true},
		{StatePaused, StateResuming, true},
		{StateResuming, StateDownloading, true},
		{StateDownloading, StateCompleted, true},
		{StatePaused, StateCancelling, true},
		{StateCancelling, StateCancelled, true},
		{StateFailed, StateResuming, true},
		{StateCompleted, StateResuming, false},
		{StateCancelled, StateDownloading, false},
		{StatePaused, StateCompleted, false},
		{StateDownloading, StatePaused, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStore_CreateUpdateGet(t *testing.T) {
	s := openTestStore(t, StoreOptions{})

	created, err := s.Create(KindSingle, Task{TotalFiles: 3, ArtworkID: 10})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.State != StateDownloading || created.EndTime != nil {
		t.Fatalf("unexpected created task %+v", created)
	}

	updated, err := s.Update(created.ID, func(t *Task) error {
		t.CompletedFiles = 2
		t.FailedFiles = 1
		t.State = StatePartial
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.EndTime == nil {
		t.Error("terminal update should set EndTime")
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StatePartial || got.CompletedFiles != 2 {
		t.Errorf("Get = %+v", got)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}

func TestStore_RejectsInvalidChanges(t *testing.T) {
	s := openTestStore(t, StoreOptions{})
	created, _ := s.Create(KindSingle, Task{TotalFiles: 2})

	_, err := s.Update(created.ID, func(t *Task) error {
		t.CompletedFiles = 2
		t.FailedFiles = 1
		return nil
	})
	if !errors.Is(err, ErrCounters) {
		t.Errorf("counter overflow err = %v", err)
	}

	_, err = s.Update(created.ID, func(t *Task) error {
		t.State = StatePaused
		return nil
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("downloading → paused err = %v", err)
	}

	if _, err := s.Update(created.ID, func(t *Task) error { t.State = StateCompleted; return nil }); err != nil {
		t.Fatal(err)
	}
	_, err = s.Update(created.ID, func(t *Task) error {
		t.CompletedFiles = 1
		return nil
	})
	if !errors.Is(err, ErrImmutable) {
		t.Errorf("update of completed task err = %v", err)
	}

	got, _ := s.Get(created.ID)
	if got.CompletedFiles != 0 {
		t.Errorf("rejected updates leaked: %+v", got)
	}
}

func TestStore_ReopenStartsResumeCycle(t *testing.T) {
	s := openTestStore(t, StoreOptions{})
	created, _ := s.Create(KindBatch, Task{TotalFiles: 2})
	s.Update(created.ID, func(t *Task) error {
		t.CompletedFiles, t.FailedFiles, t.State = 1, 1, StatePartial
		return nil
	})

	reopened, err := s.Reopen(created.ID, func(t *Task) error {
		t.State = StateResuming
		return nil
	})
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if reopened.EndTime != nil {
		t.Error("EndTime should be cleared on reopen")
	}
}

func TestStore_RecoveryForcesPaused(t *testing.T) {
	dir := t.TempDir()
	opts := StoreOptions{Path: filepath.Join(dir, "tasks.json"), HistoryPath: filepath.Join(dir, "history.json")}

	s := openTestStore(t, opts)
	running, _ := s.Create(KindSingle, Task{TotalFiles: 1})
	cancelling, _ := s.Create(KindSingle, Task{TotalFiles: 1})
	s.Update(cancelling.ID, func(t *Task) error { t.State = StateCancelling; return nil })
	done, _ := s.Create(KindSingle, Task{TotalFiles: 1})
	s.Update(done.ID, func(t *Task) error { t.CompletedFiles, t.State = 1, StateCompleted; return nil })

	reopened := openTestStore(t, opts)

	tests := []struct {
		id   string
		want State
	}{
		{running.ID, StatePaused},
		{cancelling.ID, StateCancelled},
		{done.ID, StateCompleted},
	}
	for _, tt := range tests {
		got, err := reopened.Get(tt.id)
		if err != nil {
			t.Fatalf("Get(%s): %v", tt.id, err)
		}
		if got.State != tt.want {
			t.Errorf("state of %s = %s, want %s", tt.id, got.State, tt.want)
		}
	}

	if len(reopened.History()) != 1 {
		t.Errorf("history = %d records, want 1", len(reopened.History()))
	}
	if active := reopened.ListActive(); len(active) != 1 || active[0].ID != running.ID {
		t.Errorf("ListActive = %+v", active)
	}
}

func TestStore_RetentionPrunesOldestFinished(t *testing.T) {
	s := openTestStore(t, StoreOptions{RetentionMax: 4, RetentionFloor: 2})
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	active, _ := s.Create(KindSingle, Task{TotalFiles: 1})

	var finished []string
	for i := 0; i < 5; i++ {
		created, _ := s.Create(KindSingle, Task{TotalFiles: 1})
		if _, err := s.Update(created.ID, func(t *Task) error { t.State = StateFailed; t.FailedFiles = 1; return nil }); err != nil {
			t.Fatal(err)
		}
		finished = append(finished, created.ID)
	}

	all := s.ListAll()
	if len(all) != 3 {
		t.Fatalf("ListAll = %d tasks, want 3 (1 active + floor of 2)", len(all))
	}
	if _, err := s.Get(active.ID); err != nil {
		t.Error("active task was pruned")
	}
	for _, id := range finished[:3] {
		if _, err := s.Get(id); err == nil {
			t.Errorf("old task %s survived pruning", id)
		}
	}
	for _, id := range finished[3:] {
		if _, err := s.Get(id); err != nil {
			t.Errorf("recent task %s was pruned", id)
		}
	}
	if got := len(s.History()); got != 5 {
		t.Errorf("history = %d, want 5", got)
	}
}

func TestStore_HistoryBounded(t *testing.T) {
	s := openTestStore(t, StoreOptions{HistoryMax: 3, RetentionMax: 100})
	for i := 0; i < 5; i++ {
		created, _ := s.Create(KindBatch, Task{Meta: &Meta{Type: TypeRanking, RankingMode: "day", RankingType: "illust"}})
		s.Update(created.ID, func(t *Task) error { t.State = StateCompleted; return nil })
	}
	h := s.History()
	if len(h) != 3 {
		t.Fatalf("history = %d, want 3", len(h))
	}
	if h[0].Type != TypeRanking {
		t.Errorf("Type = %q, want %q", h[0].Type, TypeRanking)
	}
}
