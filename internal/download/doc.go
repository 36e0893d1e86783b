// Package download runs download tasks: one artwork, or a batch of artworks
// from an explicit list, an artist back-catalog or a ranking.
//
// # Executor
//
// The Executor owns the task state machine:
//
//	downloading → pausing → paused → resuming → downloading
//	downloading → cancelling → cancelled
//	downloading → completed | partial | failed
//	partial | failed → resuming → downloading
//
// Every running task holds one token from the cancellation pool. Pause and
// Cancel abort the token with ErrPaused or ErrCancelled as the cause; the
// execution goroutine stops starting new transfers, the in-flight transfer
// aborts, and the task settles according to the cause.
//
// # Basic Usage
//
//	exec := download.NewExecutor(download.Options{
//	    Settings: live,
//	    Client:   pixivClient,
//	    Files:    operator,
//	    Tokens:   tokens,
//	    Tasks:    store,
//	    Registry: reg,
//	    Progress: broadcaster,
//	    Logger:   logger,
//	})
//
//	t, err := exec.StartSingle(ctx, 12345, task.Options{SkipExisting: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	exec.Wait(ctx, t.ID)
//
// # Completion
//
// A task is completed only with zero failed files. Before the artwork is
// added to the registry a second sweep checks that there is a file for
// every page and that each passes the integrity check. If the sweep fails
// the task is still reported completed but the registry is not written and
// a warning is attached.
//
// # Concurrency
//
// Single-artwork tasks download pages in order. Batches run items in
// windows of Settings.BatchConcurrency, read from the live settings at the
// start of every window. Each item has its own Settings.ItemTimeout and a
// window waits for all of its items before the next one starts.
//
// # Resume
//
// Resuming a single-artwork task re-fetches its page list, keeps the pages
// on disk that pass the integrity check and downloads only the rest.
// Resuming a batch re-runs every item with SkipExisting on; items already in
// the registry count as completed without any transfer.
package download
