package download

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/model"
	"github.com/handiism/pixiv-downloader/internal/task"
)

// itemResult is the outcome of one batch item.
type itemResult struct {
	title   string
	skipped bool
	bytes   int64
	err     error
	aborted bool
}

// runBatch processes items in windows of the live batch concurrency. Every
// item of a window runs under its own timeout and the window waits for all
// of them, so one failure never drops a sibling's result.
func (e *Executor) runBatch(r *run, items []task.BatchItem, opts task.Options) {
	ctx := r.tok.Context()

	var orchErr error
	func() {
		defer func() {
			if err := recovered(recover()); err != nil {
				orchErr = err
			}
		}()

		for start := 0; start < len(items) && ctx.Err() == nil; {
			settings := e.settings.Get()
			size := settings.BatchConcurrency
			if opts.Concurrency > 0 {
				size = opts.Concurrency
			}
			end := min(start+max(size, 1), len(items))

			var g errgroup.Group
			for _, item := range items[start:end] {
				g.Go(func() error {
					res := e.runItem(ctx, r, item, opts, settings)
					e.recordItem(r.id, item, res)
					return nil
				})
			}
			g.Wait()
			start = end
		}
	}()

	e.finish(r, orchErr, nil)
}

// runItem downloads one artwork of a batch. parent is the task's token
// context; the item gets its own deadline on top of it.
func (e *Executor) runItem(parent context.Context, r *run, item task.BatchItem, opts task.Options, settings *config.Settings) (res itemResult) {
	log := e.logger.With("task_id", r.id, "artwork_id", item.ID)
	res.title = item.Title

	defer func() {
		if err := recovered(recover()); err != nil {
			res.err = err
		}
	}()

	ctx := parent
	if d := settings.ItemTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(parent, d, fmt.Errorf("artwork %d: item timeout after %s", item.ID, d))
		defer cancel()
	}

	if opts.SkipExisting {
		done, err := e.registry.IsDownloaded(ctx, item.ID)
		if err != nil {
			log.Warn("registry lookup failed", "error", err)
		}
		if done {
			res.skipped = true
			return res
		}
	}

	artwork, err := e.resolve(ctx, item.ID, opts.Size, settings)
	if err != nil {
		res.err = err
		res.aborted = parent.Err() != nil
		return res
	}
	res.title = artwork.Title

	failed := 0
	var firstErr error
	err = e.fetchPages(ctx, r, artwork, e.classify(ctx, artwork), func(img *model.Image, size int64, err error) {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		res.bytes += size
	})

	if err != nil && parent.Err() != nil {
		res.aborted = true
		if errors.Is(context.Cause(parent), ErrCancelled) {
			if err := e.discard(context.WithoutCancel(ctx), artwork.Path); err != nil {
				r.warn(fmt.Sprintf("artwork %d cleanup failed: %v", item.ID, err))
			}
		}
		return res
	}
	if err != nil {
		res.err = context.Cause(ctx)
		if res.err == nil {
			res.err = err
		}
		return res
	}
	if failed > 0 {
		res.err = fmt.Errorf("%d of %d pages failed: %w", failed, len(artwork.Images), firstErr)
		return res
	}

	if warning := e.commit(ctx, artwork); warning != "" {
		r.warn(warning)
	}
	return res
}

// recordItem folds an item result into the task counters. Items cut short
// by a pause or cancel are not counted; they are redone on resume.
func (e *Executor) recordItem(id string, item task.BatchItem, res itemResult) {
	if res.aborted {
		return
	}
	if res.err != nil {
		e.logger.Warn("batch item failed", "task_id", id, "artwork_id", item.ID, "error", res.err)
	}

	e.update(id, func(t *task.Task) error {
		if res.err != nil {
			t.FailedFiles++
			return nil
		}
		t.CompletedFiles++
		t.DownloadedBytes += res.bytes
		t.PushRecent(task.RecentItem{
			ID:          item.ID,
			Title:       res.title,
			Skipped:     res.skipped,
			CompletedAt: e.now(),
		})
		return nil
	})
}
