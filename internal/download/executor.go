package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/handiism/pixiv-downloader/internal/cancel"
	"github.com/handiism/pixiv-downloader/internal/config"
	ioutils "github.com/handiism/pixiv-downloader/internal/io"
	"github.com/handiism/pixiv-downloader/internal/model"
	"github.com/handiism/pixiv-downloader/internal/progress"
	"github.com/handiism/pixiv-downloader/internal/registry"
	"github.com/handiism/pixiv-downloader/internal/task"
)

var (
	// ErrPaused is the cancellation cause of a paused task.
	ErrPaused = errors.New("task paused")

	// ErrCancelled is the cancellation cause of a cancelled task.
	ErrCancelled = errors.New("task cancelled")

	// ErrNotRunning is returned by Pause for tasks with no live execution.
	ErrNotRunning = errors.New("task is not running")

	// ErrAlreadyRunning is returned by Resume for tasks that are executing.
	ErrAlreadyRunning = errors.New("task is already running")
)

// ContentClient fetches artwork metadata. It is implemented by pixiv.Client.
type ContentClient interface {
	ArtworkDetail(ctx context.Context, id int64) (*model.ArtworkDetail, error)
	ArtworkImages(ctx context.Context, id int64) ([]model.ImageURLs, error)
	ArtistArtworks(ctx context.Context, artistID int64, offset int) (*model.Listing, error)
	Ranking(ctx context.Context, mode, rankingType string, offset int) (*model.Listing, error)
}

// FileOperator performs verified downloads and file system primitives. It
// is implemented by ioutils.Operator.
type FileOperator interface {
	Download(ctx context.Context, url, dest string, onProgress func(written, total int64)) error
	CheckIntegrity(path, sourceURL string) ioutils.IntegrityResult
	SafeDelete(ctx context.Context, path string) bool
	EnsureDir(ctx context.Context, path string) bool
	RemoveAll(ctx context.Context, path string) error
}

// Options wires an Executor to its collaborators.
type Options struct {
	Settings *config.Live
	Client   ContentClient
	Files    FileOperator
	Tokens   *cancel.Registry
	Tasks    *task.Store
	Registry registry.Registry
	Progress *progress.Broadcaster
	Logger   *slog.Logger
}

// Executor runs download tasks and drives their state machine.
type Executor struct {
	settings *config.Live
	client   ContentClient
	files    FileOperator
	tokens   *cancel.Registry
	tasks    *task.Store
	registry registry.Registry
	progress *progress.Broadcaster
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	runs     map[string]*run
	resuming map[string]bool
}

// run is the live execution of one task.
type run struct {
	id       string
	tok      *cancel.Token
	listener int
	done     chan struct{}

	mu       sync.Mutex
	finished bool
	cleanup  func(ctx context.Context) error
	warnings []string
}

func (r *run) warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

// NewExecutor creates an Executor.
func NewExecutor(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		settings: opts.Settings,
		client:   opts.Client,
		files:    opts.Files,
		tokens:   opts.Tokens,
		tasks:    opts.Tasks,
		registry: opts.Registry,
		progress: opts.Progress,
		logger:   opts.Logger,
		now:      time.Now,
		runs:     make(map[string]*run),
		resuming: make(map[string]bool),
	}
}

// StartSingle resolves an artwork and starts downloading its pages.
//
// When opts.SkipExisting is set and the artwork is both registered and
// verified on disk, the returned task is already completed with one skip
// and nothing is downloaded.
func (e *Executor) StartSingle(ctx context.Context, artworkID int64, opts task.Options) (task.Task, error) {
	settings := e.settings.Get()
	opts = withDefaults(opts, settings)

	artwork, err := e.resolve(ctx, artworkID, opts.Size, settings)
	if err != nil {
		return task.Task{}, err
	}

	data := task.Task{
		TotalFiles:   len(artwork.Images),
		ArtistName:   artwork.Artist,
		ArtworkID:    artwork.ID,
		ArtworkTitle: artwork.Title,
		TargetDir:    artwork.Path,
		Options:      opts,
	}

	if opts.SkipExisting {
		done, err := e.registry.IsDownloaded(ctx, artworkID)
		if err != nil {
			return task.Task{}, fmt.Errorf("check registry: %w", err)
		}
		if done && e.verify(artwork) {
			data.State = task.StateCompleted
			data.CompletedFiles = data.TotalFiles
			data.SkippedCount = 1
			t, err := e.tasks.Create(task.KindSingle, data)
			if err == nil {
				e.logger.Info("artwork already downloaded", "task_id", t.ID, "artwork_id", artworkID)
			}
			return t, err
		}
	}

	t, err := e.tasks.Create(task.KindSingle, data)
	if err != nil {
		return task.Task{}, err
	}
	r, err := e.launch(t.ID)
	if err != nil {
		e.tasks.Delete(t.ID)
		return task.Task{}, err
	}

	e.logger.Info("started artwork download", "task_id", t.ID, "artwork_id", artworkID, "pages", len(artwork.Images))
	e.progress.Publish(t)
	go e.runSingle(r, artwork, nil)
	return t, nil
}

// StartBatch starts a batch over items. skipped is the number of items the
// caller already filtered out as downloaded; it is recorded on the task.
func (e *Executor) StartBatch(items []task.BatchItem, meta *task.Meta, opts task.Options, skipped int) (task.Task, error) {
	opts = withDefaults(opts, e.settings.Get())

	data := task.Task{
		TotalFiles:   len(items),
		SkippedCount: skipped,
		Items:        items,
		Meta:         meta,
		Options:      opts,
	}
	if len(items) == 0 {
		data.State = task.StateCompleted
		return e.tasks.Create(task.KindBatch, data)
	}

	t, err := e.tasks.Create(task.KindBatch, data)
	if err != nil {
		return task.Task{}, err
	}
	r, err := e.launch(t.ID)
	if err != nil {
		e.tasks.Delete(t.ID)
		return task.Task{}, err
	}

	e.logger.Info("started batch download", "task_id", t.ID, "items", len(items), "skipped", skipped)
	e.progress.Publish(t)
	go e.runBatch(r, items, opts)
	return t, nil
}

// Pause stops a running task. In-flight transfers are aborted and their
// partial files removed; the task settles in paused once the execution
// has stopped. The returned projection is in pausing.
func (e *Executor) Pause(id string) (task.Task, error) {
	r, ok := e.run(id)
	if !ok {
		return e.notRunning(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return e.notRunning(id)
	}

	t, err := e.update(id, func(t *task.Task) error {
		t.State = task.StatePausing
		return nil
	})
	if err != nil {
		return t, err
	}
	e.tokens.AbortAndRelease(id, ErrPaused)
	e.logger.Info("pausing task", "task_id", id)
	return t, nil
}

func (e *Executor) notRunning(id string) (task.Task, error) {
	t, err := e.tasks.Get(id)
	if err != nil {
		return t, err
	}
	return t, fmt.Errorf("%w: %s is %s", ErrNotRunning, id, t.State)
}

// Cancel stops a task for good. A running task is aborted and settles in
// cancelled once the execution has stopped; a paused task is cancelled
// immediately. Cleanup failures become a warning on the task.
func (e *Executor) Cancel(id string) (task.Task, error) {
	if r, ok := e.run(id); ok {
		r.mu.Lock()
		if !r.finished {
			defer r.mu.Unlock()
			t, err := e.update(id, func(t *task.Task) error {
				t.State = task.StateCancelling
				return nil
			})
			if err != nil {
				return t, err
			}
			e.tokens.AbortAndRelease(id, ErrCancelled)
			e.logger.Info("cancelling task", "task_id", id)
			return t, nil
		}
		r.mu.Unlock()
	}

	t, err := e.update(id, func(t *task.Task) error {
		t.State = task.StateCancelling
		return nil
	})
	if err != nil {
		return t, err
	}

	var warning string
	if t.Kind == task.KindSingle && t.TargetDir != "" {
		if err := e.discard(context.Background(), t.TargetDir); err != nil {
			warning = "cleanup failed: " + err.Error()
		}
	}
	return e.update(id, func(t *task.Task) error {
		t.State = task.StateCancelled
		t.Warning = warning
		return nil
	})
}

// Resume restarts a paused, partial or failed task.
//
// A single-artwork task recomputes its page list, keeps pages that pass
// the integrity check, deletes the rest and continues from the first gap.
// A batch re-runs its full item list with SkipExisting forced on, so items
// already in the registry are skipped cheaply.
func (e *Executor) Resume(ctx context.Context, id string) (task.Task, error) {
	e.mu.Lock()
	if _, running := e.runs[id]; running || e.resuming[id] {
		e.mu.Unlock()
		t, _ := e.tasks.Get(id)
		return t, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	e.resuming[id] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.resuming, id)
		e.mu.Unlock()
	}()

	t, err := e.tasks.Get(id)
	if err != nil {
		return t, err
	}
	switch t.State {
	case task.StatePaused, task.StatePartial, task.StateFailed:
	default:
		return t, fmt.Errorf("%w: cannot resume a %s task", task.ErrInvalidTransition, t.State)
	}

	t, err = e.reopen(id)
	if err != nil {
		return t, err
	}

	settings := e.settings.Get()
	var artwork *model.Artwork
	var have map[int]bool
	if t.Kind == task.KindSingle {
		artwork, err = e.resolve(ctx, t.ArtworkID, t.Options.Size, settings)
		if err != nil {
			failed, _ := e.update(id, func(t *task.Task) error {
				t.State = task.StateFailed
				t.Error = err.Error()
				return nil
			})
			return failed, err
		}
		have = e.classify(ctx, artwork)
	}

	r, err := e.launch(id)
	if err != nil {
		paused, _ := e.update(id, func(t *task.Task) error {
			t.State = task.StatePaused
			return nil
		})
		return paused, err
	}

	t, err = e.update(id, func(t *task.Task) error {
		t.State = task.StateDownloading
		t.FailedFiles = 0
		if artwork != nil {
			t.TotalFiles = len(artwork.Images)
			t.CompletedFiles = len(have)
			t.TargetDir = artwork.Path
		} else {
			t.CompletedFiles = 0
		}
		return nil
	})
	if err != nil {
		e.abandon(r)
		return t, err
	}

	e.logger.Info("resumed task", "task_id", id, "kind", t.Kind, "completed", t.CompletedFiles, "total", t.TotalFiles)
	if artwork != nil {
		go e.runSingle(r, artwork, have)
	} else {
		opts := t.Options
		opts.SkipExisting = true
		go e.runBatch(r, t.Items, opts)
	}
	return t, nil
}

func (e *Executor) reopen(id string) (task.Task, error) {
	t, err := e.tasks.Reopen(id, func(t *task.Task) error {
		t.State = task.StateResuming
		t.Error = ""
		t.Warning = ""
		return nil
	})
	if err == nil {
		e.progress.Publish(t)
	}
	return t, err
}

// Wait blocks until the task with id has no live execution or ctx is done.
func (e *Executor) Wait(ctx context.Context, id string) error {
	r, ok := e.run(id)
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the task has a live execution.
func (e *Executor) Running(id string) bool {
	_, ok := e.run(id)
	return ok
}

func (e *Executor) run(id string) (*run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[id]
	return r, ok
}

// launch takes a cancellation token for id and registers the execution.
func (e *Executor) launch(id string) (*run, error) {
	tok, err := e.tokens.Create(id)
	if err != nil {
		return nil, err
	}
	r := &run{id: id, tok: tok, done: make(chan struct{})}

	lid, err := e.tokens.AddListener(id, func() {
		e.logger.Debug("task abort signalled", "task_id", id, "cause", context.Cause(tok.Context()))
	})
	if err == nil {
		r.listener = lid
	}

	e.mu.Lock()
	e.runs[id] = r
	e.mu.Unlock()
	return r, nil
}

// abandon drops a registered execution that never started.
func (e *Executor) abandon(r *run) {
	e.tokens.RemoveListener(r.id, r.listener)
	e.tokens.Release(r.tok)
	e.mu.Lock()
	delete(e.runs, r.id)
	e.mu.Unlock()
	close(r.done)
}

// finish settles the task once its execution has stopped. The final state
// follows the abort cause if there is one, else the counters. complete runs
// only for tasks about to be reported completed and returns a warning.
func (e *Executor) finish(r *run, orchErr error, complete func() string) {
	r.mu.Lock()
	r.finished = true
	cause := context.Cause(r.tok.Context())
	if cause == context.Canceled {
		cause = nil
	}

	e.tokens.RemoveListener(r.id, r.listener)
	e.tokens.Release(r.tok)

	if errors.Is(cause, ErrCancelled) && r.cleanup != nil {
		if err := r.cleanup(context.Background()); err != nil {
			r.warnings = append(r.warnings, "cleanup failed: "+err.Error())
		}
	}
	warnings := r.warnings

	cur, err := e.tasks.Get(r.id)
	if err == nil {
		var extra string
		state := task.StateFailed
		switch {
		case errors.Is(cause, ErrPaused):
			state = task.StatePaused
		case errors.Is(cause, ErrCancelled):
			state = task.StateCancelled
		case cause != nil:
			orchErr = cause
		case orchErr != nil:
		case cur.FailedFiles == 0:
			state = task.StateCompleted
			if complete != nil {
				extra = complete()
			}
		case cur.CompletedFiles > 0:
			state = task.StatePartial
		}
		if extra != "" {
			warnings = append(warnings, extra)
		}

		t, err := e.update(r.id, func(t *task.Task) error {
			t.State = state
			if len(warnings) > 0 {
				t.Warning = strings.Join(warnings, "; ")
			}
			if state == task.StateFailed && orchErr != nil {
				t.Error = orchErr.Error()
			}
			return nil
		})
		if err == nil {
			e.logger.Info("task finished", "task_id", r.id, "state", t.State,
				"completed", t.CompletedFiles, "failed", t.FailedFiles, "total", t.TotalFiles)
		}
	}
	r.mu.Unlock()

	e.mu.Lock()
	delete(e.runs, r.id)
	e.mu.Unlock()
	close(r.done)
}

// update commits fn to the store and publishes the result.
func (e *Executor) update(id string, fn func(*task.Task) error) (task.Task, error) {
	t, err := e.tasks.Update(id, fn)
	if err != nil {
		e.logger.Debug("task update rejected", "task_id", id, "error", err)
		return t, err
	}
	e.progress.Publish(t)
	return t, nil
}

// recovered converts a panic in an execution goroutine into an error.
func recovered(v any) error {
	if v == nil {
		return nil
	}
	return fmt.Errorf("download loop panicked: %v", v)
}

func withDefaults(opts task.Options, settings *config.Settings) task.Options {
	if opts.Size == "" {
		opts.Size = settings.ImageSize
	}
	if opts.Size == "" {
		opts.Size = model.SizeOriginal
	}
	return opts
}
