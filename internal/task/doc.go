// Package task defines the unit of orchestration work and its durable store.
//
// # Lifecycle
//
// A Task moves through the states below. The transient states (pausing,
// resuming, cancelling) are held only while cleanup or re-validation runs.
//
//	downloading → pausing → paused → resuming → downloading
//	downloading → cancelling → cancelled
//	downloading → completed | partial | failed
//	paused      → cancelling
//	partial, failed → resuming (a new resume cycle)
//
// Terminal states (completed, partial, failed, cancelled) are immutable:
// Store.Update rejects any change to them and only Store.Reopen, used by a
// resume cycle, may move a task out of one.
//
// # Store
//
// Store keeps every task in memory and persists the whole collection as JSON
// after each mutation. On open, tasks found downloading are forced to paused.
// After every terminal write the oldest finished tasks are pruned once their
// number exceeds the retention threshold, and a HistoryRecord is appended.
package task
