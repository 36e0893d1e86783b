// Package progress fans task projections out to per-task subscribers.
//
// # Delivery
//
// Each subscriber owns a one-slot channel. A publish never blocks: when the
// slot is full the stale projection is replaced by the newer one, so a slow
// reader only ever sees the latest state.
//
// # Throttling
//
// Non-terminal publishes are throttled per task to one per interval. Updates
// that arrive mid-window are coalesced and the newest fires when the window
// closes. Terminal and paused projections bypass the throttle.
//
// # Lifetime
//
// A terminal or paused projection is the last value a subscription receives
// before its channel is closed. A resumed task needs a fresh subscription:
//
//	sub := broadcaster.Subscribe(taskID)
//	defer broadcaster.Unsubscribe(sub)
//	for t := range sub.C {
//	    render(t)
//	}
package progress
