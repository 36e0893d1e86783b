package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	ioutils "github.com/handiism/pixiv-downloader/internal/io"
)

// HistoryRecord summarises a task that reached a terminal state.
type HistoryRecord struct {
	TaskID    string    `json:"task_id"`
	Kind      Kind      `json:"kind"`
	Type      string    `json:"type,omitempty"`
	Label     string    `json:"label"`
	State     State     `json:"state"`
	Total     int       `json:"total_files"`
	Completed int       `json:"completed_files"`
	Failed    int       `json:"failed_files"`
	Skipped   int       `json:"skipped_count,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Path is the task record file. Empty keeps tasks in memory only.
	Path string

	// HistoryPath is the history file. Empty keeps history in memory only.
	HistoryPath string

	// RetentionMax is the number of finished tasks that triggers pruning.
	RetentionMax int

	// RetentionFloor is the number of finished tasks kept after pruning.
	RetentionFloor int

	// HistoryMax bounds the history collection.
	HistoryMax int

	Logger *slog.Logger
}

// Store is the durable record of every task.
type Store struct {
	opts StoreOptions
	now  func() time.Time

	mu      sync.Mutex
	tasks   map[string]*Task
	history deque.Deque[HistoryRecord] // newest first
}

type storeFile struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Open loads the store from disk. Tasks found downloading are forced to
// paused, and tasks caught mid-transition are settled.
func Open(opts StoreOptions) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetentionMax <= 0 {
		opts.RetentionMax = 100
	}
	if opts.RetentionFloor <= 0 || opts.RetentionFloor > opts.RetentionMax {
		opts.RetentionFloor = opts.RetentionMax / 2
	}
	if opts.HistoryMax <= 0 {
		opts.HistoryMax = 500
	}

	s := &Store{
		opts:  opts,
		now:   time.Now,
		tasks: make(map[string]*Task),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	if s.recover() > 0 {
		if err := s.persistTasks(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	if s.opts.Path != "" {
		data, err := os.ReadFile(s.opts.Path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return fmt.Errorf("read task store: %w", err)
		default:
			var f storeFile
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse task store: %w", err)
			}
			for id, t := range f.Tasks {
				if t == nil {
					continue
				}
				t.ID = id
				s.tasks[id] = t
			}
		}
	}

	if s.opts.HistoryPath != "" {
		data, err := os.ReadFile(s.opts.HistoryPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return fmt.Errorf("read task history: %w", err)
		default:
			var records []HistoryRecord
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("parse task history: %w", err)
			}
			for _, rec := range records {
				s.history.PushBack(rec)
			}
		}
	}
	return nil
}

// recover settles tasks left active or mid-transition by a previous process.
func (s *Store) recover() int {
	n := 0
	now := s.now()
	for _, t := range s.tasks {
		switch t.State {
		case StateDownloading, StatePausing, StateResuming:
			s.opts.Logger.Info("recovered interrupted task as paused", "task_id", t.ID, "was", t.State)
			t.State = StatePaused
			n++
		case StateCancelling:
			s.opts.Logger.Info("recovered interrupted cancellation", "task_id", t.ID)
			t.State = StateCancelled
			t.EndTime = &now
			n++
		}
	}
	return n
}

// Create stores a new task of kind built from data. The id, state and start
// time are assigned by the store.
func (s *Store) Create(kind Kind, data Task) (Task, error) {
	t := data.Clone()
	t.ID = uuid.NewString()
	t.Kind = kind
	if t.State == "" {
		t.State = StateDownloading
	}
	t.StartTime = s.now()
	if t.State.Terminal() {
		end := t.StartTime
		t.EndTime = &end
	} else {
		t.EndTime = nil
	}
	if err := t.validate(); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[t.ID] = &t
	s.afterWrite(&t, "")
	return t.Clone(), nil
}

// Get returns a copy of the task with id.
func (s *Store) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// Update applies fn to a copy of the task and commits it if the resulting
// state change is allowed and the counters stay consistent. Tasks in a
// terminal state cannot be updated.
func (s *Store) Update(id string, fn func(*Task) error) (Task, error) {
	return s.update(id, false, fn)
}

// Reopen is Update for a resume cycle: it may move a partial or failed task
// back to resuming.
func (s *Store) Reopen(id string, fn func(*Task) error) (Task, error) {
	return s.update(id, true, fn)
}

func (s *Store) update(id string, reopen bool, fn func(*Task) error) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.State.Terminal() && !reopen {
		return cur.Clone(), fmt.Errorf("%w: %s is %s", ErrImmutable, id, cur.State)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), err
	}
	next.ID, next.Kind, next.StartTime = cur.ID, cur.Kind, cur.StartTime

	if !CanTransition(cur.State, next.State) {
		return cur.Clone(), fmt.Errorf("%w: %s → %s", ErrInvalidTransition, cur.State, next.State)
	}
	if err := next.validate(); err != nil {
		return cur.Clone(), err
	}

	switch {
	case next.State.Terminal() && next.EndTime == nil:
		end := s.now()
		next.EndTime = &end
	case !next.State.Terminal():
		next.EndTime = nil
	}

	prev := cur.State
	s.tasks[id] = &next
	s.afterWrite(&next, prev)
	return next.Clone(), nil
}

// Delete removes a task record.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.tasks, id)
	s.logPersist(s.persistTasks())
	return nil
}

// ListAll returns every task, newest first.
func (s *Store) ListAll() []Task {
	return s.list(func(*Task) bool { return true })
}

// ListActive returns downloading and paused tasks, newest first.
func (s *Store) ListActive() []Task {
	return s.list(func(t *Task) bool { return t.State.Active() })
}

func (s *Store) list(keep func(*Task) bool) []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// History returns the history records, newest first.
func (s *Store) History() []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]HistoryRecord, s.history.Len())
	for i := range out {
		out[i] = s.history.At(i)
	}
	return out
}

// afterWrite runs with s.mu held.
func (s *Store) afterWrite(t *Task, prev State) {
	if t.State.Terminal() && !prev.Terminal() {
		s.appendHistory(t)
		s.prune()
	}
	s.logPersist(s.persistTasks())
}

func (s *Store) appendHistory(t *Task) {
	rec := HistoryRecord{
		TaskID:    t.ID,
		Kind:      t.Kind,
		Label:     t.Label(),
		State:     t.State,
		Total:     t.TotalFiles,
		Completed: t.CompletedFiles,
		Failed:    t.FailedFiles,
		Skipped:   t.SkippedCount,
		StartTime: t.StartTime,
	}
	if t.Meta != nil {
		rec.Type = t.Meta.Type
	}
	if t.EndTime != nil {
		rec.EndTime = *t.EndTime
	}

	s.history.PushFront(rec)
	for s.history.Len() > s.opts.HistoryMax {
		s.history.PopBack()
	}
	s.logPersist(s.persistHistory())
}

// prune drops the oldest finished tasks once there are more than RetentionMax.
func (s *Store) prune() {
	var finished []*Task
	for _, t := range s.tasks {
		if t.State.Terminal() {
			finished = append(finished, t)
		}
	}
	if len(finished) <= s.opts.RetentionMax {
		return
	}

	sort.Slice(finished, func(i, j int) bool {
		return endTime(finished[i]).Before(endTime(finished[j]))
	})
	drop := len(finished) - s.opts.RetentionFloor
	for _, t := range finished[:drop] {
		delete(s.tasks, t.ID)
	}
	s.opts.Logger.Debug("pruned finished tasks", "removed", drop, "kept", s.opts.RetentionFloor)
}

func endTime(t *Task) time.Time {
	if t.EndTime == nil {
		return t.StartTime
	}
	return *t.EndTime
}

func (s *Store) persistTasks() error {
	if s.opts.Path == "" {
		return nil
	}
	data, err := json.MarshalIndent(storeFile{Tasks: s.tasks}, "", "  ")
	if err != nil {
		return err
	}
	return ioutils.WriteFileAtomic(s.opts.Path, data)
}

func (s *Store) persistHistory() error {
	if s.opts.HistoryPath == "" {
		return nil
	}
	records := make([]HistoryRecord, s.history.Len())
	for i := range records {
		records[i] = s.history.At(i)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return ioutils.WriteFileAtomic(s.opts.HistoryPath, data)
}

func (s *Store) logPersist(err error) {
	if err != nil {
		s.opts.Logger.Error("persist task store", "error", err)
	}
}
