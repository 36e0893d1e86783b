package task

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind distinguishes single-artwork tasks from batch tasks.
type Kind string

const (
	KindSingle Kind = "single-item"
	KindBatch  Kind = "batch"
)

// State is the lifecycle state of a task.
type State string

const (
	StateDownloading State = "downloading"
	StatePaused      State = "paused"
	StatePausing     State = "pausing"
	StateResuming    State = "resuming"
	StateCancelling  State = "cancelling"
	StateCancelled   State = "cancelled"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StatePartial     State = "partial"
)

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePartial, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Active reports whether s counts as an active task (downloading or paused).
func (s State) Active() bool {
	return s == StateDownloading || s == StatePaused
}

// Batch task types, used for history labels only.
const (
	TypeMultiple = "multiple"
	TypeArtist   = "artist"
	TypeRanking  = "ranking"
)

// RecentLimit is the size of the "recently completed" ring on batch tasks.
const RecentLimit = 5

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrImmutable is returned by Update on a task in a terminal state.
	ErrImmutable = errors.New("task is in a terminal state")

	// ErrCounters is returned when completed + failed would exceed total.
	ErrCounters = errors.New("completed and failed files exceed total")
)

// BatchItem is the lightweight description of one artwork in a batch.
type BatchItem struct {
	ID     int64  `json:"id"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// RecentItem is an entry of the recently completed ring.
type RecentItem struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title,omitempty"`
	Skipped     bool      `json:"skipped,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Options are the download choices a task was created with.
type Options struct {
	Size         string `json:"size"`
	SkipExisting bool   `json:"skip_existing"`
	Concurrency  int    `json:"concurrency,omitempty"`
}

// Meta labels batch tasks for history.
type Meta struct {
	Type        string `json:"type,omitempty"`
	ArtistID    int64  `json:"artist_id,omitempty"`
	ArtistName  string `json:"artist_name,omitempty"`
	RankingMode string `json:"ranking_mode,omitempty"`
	RankingType string `json:"ranking_type,omitempty"`
}

// Task is one orchestrated download job.
type Task struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	State State  `json:"state"`

	TotalFiles      int   `json:"total_files"`
	CompletedFiles  int   `json:"completed_files"`
	FailedFiles     int   `json:"failed_files"`
	SkippedCount    int   `json:"skipped_count,omitempty"`
	DownloadedBytes int64 `json:"downloaded_bytes,omitempty"`

	// Single-item fields.
	ArtistName   string `json:"artist_name,omitempty"`
	ArtworkID    int64  `json:"artwork_id,omitempty"`
	ArtworkTitle string `json:"artwork_title,omitempty"`
	TargetDir    string `json:"target_dir,omitempty"`

	// Batch fields.
	Items  []BatchItem  `json:"items,omitempty"`
	Recent []RecentItem `json:"recent,omitempty"`
	Meta   *Meta        `json:"meta,omitempty"`

	Options Options `json:"options"`

	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

// Progress returns completed/total as a rounded percentage.
func (t *Task) Progress() int {
	if t.TotalFiles <= 0 {
		if t.State == StateCompleted {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(t.CompletedFiles) / float64(t.TotalFiles) * 100))
}

// Label is a short human description used by history and UIs.
func (t *Task) Label() string {
	if t.Kind == KindSingle {
		return fmt.Sprintf("%s - %s (%d)", t.ArtistName, t.ArtworkTitle, t.ArtworkID)
	}
	if t.Meta == nil {
		return fmt.Sprintf("%d artworks", len(t.Items))
	}
	switch t.Meta.Type {
	case TypeArtist:
		return fmt.Sprintf("artist %s (%d artworks)", t.Meta.ArtistName, len(t.Items))
	case TypeRanking:
		return fmt.Sprintf("ranking %s/%s (%d artworks)", t.Meta.RankingMode, t.Meta.RankingType, len(t.Items))
	}
	return fmt.Sprintf("%d artworks", len(t.Items))
}

// PushRecent appends item to the recently completed ring, keeping the last RecentLimit.
func (t *Task) PushRecent(item RecentItem) {
	t.Recent = append(t.Recent, item)
	if len(t.Recent) > RecentLimit {
		t.Recent = append([]RecentItem(nil), t.Recent[len(t.Recent)-RecentLimit:]...)
	}
}

// Clone returns a deep copy of t.
func (t *Task) Clone() Task {
	c := *t
	if t.Items != nil {
		c.Items = append([]BatchItem(nil), t.Items...)
	}
	if t.Recent != nil {
		c.Recent = append([]RecentItem(nil), t.Recent...)
	}
	if t.Meta != nil {
		m := *t.Meta
		c.Meta = &m
	}
	if t.EndTime != nil {
		e := *t.EndTime
		c.EndTime = &e
	}
	return c
}

func (t *Task) validate() error {
	if t.CompletedFiles < 0 || t.FailedFiles < 0 || t.TotalFiles < 0 {
		return fmt.Errorf("%w: negative counter", ErrCounters)
	}
	if t.CompletedFiles+t.FailedFiles > t.TotalFiles {
		return fmt.Errorf("%w: %d + %d > %d", ErrCounters, t.CompletedFiles, t.FailedFiles, t.TotalFiles)
	}
	return nil
}

var transitions = map[State][]State{
	StateDownloading: {StatePausing, StateCancelling, StateCompleted, StatePartial, StateFailed},
	StatePausing:     {StatePaused},
	StatePaused:      {StateResuming, StateCancelling},
	StateResuming:    {StateDownloading, StatePaused, StateFailed},
	StateCancelling:  {StateCancelled},
	StatePartial:     {StateResuming},
	StateFailed:      {StateResuming},
}

// CanTransition reports whether a task may move from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
