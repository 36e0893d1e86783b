// Package cancel provides a bounded pool of cooperative cancellation tokens,
// one per in-flight task.
//
// # Tokens
//
// A Token wraps a context created with context.WithCancelCause. Aborting a
// token records why the task stopped, and workers read it back with
// context.Cause:
//
//	tok, err := tokens.Create(taskID)
//	if errors.Is(err, cancel.ErrPoolFull) {
//	    // reject the task
//	}
//	...
//	tokens.AbortAndRelease(taskID, download.ErrPaused)
//
// Creating a token for an id that already holds one releases the old token
// first; its listeners run and are dropped.
//
// # Limits
//
// The pool is bounded three ways:
//   - MaxTokens: Create fails with ErrPoolFull at capacity
//   - MaxListeners: AddListener fails with ErrTooManyListeners
//   - MaxAge: Sweep aborts older tokens with ErrExpired
//
// Run drives Sweep on a ticker until its context is done. A warning is
// logged once utilisation passes 80%.
package cancel
