package cancel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPoolFull is returned by Create when the pool is at capacity.
	ErrPoolFull = errors.New("cancellation pool at capacity")

	// ErrTooManyListeners is returned by AddListener when a token is at its listener cap.
	ErrTooManyListeners = errors.New("too many listeners on token")

	// ErrUnknownToken is returned for ids with no live token.
	ErrUnknownToken = errors.New("no cancellation token for id")

	// ErrExpired is the cancellation cause of tokens aborted by the sweeper.
	ErrExpired = errors.New("cancellation token expired")

	// ErrReleased is the cancellation cause of tokens released without an explicit cause.
	ErrReleased = errors.New("cancellation token released")
)

// pressureThreshold is the pool utilisation above which Create logs a warning.
const pressureThreshold = 0.8

// Token is a cooperative stop signal scoped to one task.
type Token struct {
	id      string
	ctx     context.Context
	cancel  context.CancelCauseFunc
	created time.Time

	mu        sync.Mutex
	nextID    int
	listeners map[int]func() bool
}

// ID returns the id the token was created for.
func (t *Token) ID() string { return t.id }

// Context returns the context that is cancelled when the token is aborted.
func (t *Token) Context() context.Context { return t.ctx }

// Created returns when the token was created.
func (t *Token) Created() time.Time { return t.created }

// Aborted reports whether the token has been aborted.
func (t *Token) Aborted() bool { return t.ctx.Err() != nil }

// Options configures a Registry.
type Options struct {
	MaxTokens    int
	MaxListeners int
	MaxAge       time.Duration
	Logger       *slog.Logger
}

// Registry owns every live token.
type Registry struct {
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	tokens map[string]*Token
}

// Stats describes pool usage.
type Stats struct {
	Tokens      int     `json:"tokens"`
	Listeners   int     `json:"listeners"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// NewRegistry creates an empty token pool.
func NewRegistry(opts Options) *Registry {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 50
	}
	if opts.MaxListeners <= 0 {
		opts.MaxListeners = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		opts:   opts,
		now:    time.Now,
		tokens: make(map[string]*Token),
	}
}

// Create returns a fresh token for id. A live token already held by id is
// released as by AbortAndRelease, so its listeners run and are dropped.
// Returns ErrPoolFull when the pool is at capacity.
func (r *Registry) Create(id string) (*Token, error) {
	r.mu.Lock()
	old, replaced := r.tokens[id]
	if replaced {
		delete(r.tokens, id)
	}
	defer func() {
		if replaced {
			old.abort(ErrReleased)
		}
	}()
	defer r.mu.Unlock()

	if len(r.tokens) >= r.opts.MaxTokens {
		r.opts.Logger.Warn("cancellation pool exhausted", "capacity", r.opts.MaxTokens, "task_id", id)
		return nil, ErrPoolFull
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	tok := &Token{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		created:   r.now(),
		listeners: make(map[int]func() bool),
	}
	r.tokens[id] = tok

	if util := float64(len(r.tokens)) / float64(r.opts.MaxTokens); util >= pressureThreshold {
		r.opts.Logger.Warn("cancellation pool under pressure", "tokens", len(r.tokens), "capacity", r.opts.MaxTokens)
	}
	return tok, nil
}

// Get returns the live token for id.
func (r *Registry) Get(id string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	return tok, ok
}

// AbortAndRelease cancels the token for id with cause and drops it from the
// pool. A nil cause is recorded as ErrReleased. Unknown ids are ignored.
func (r *Registry) AbortAndRelease(id string, cause error) {
	r.mu.Lock()
	tok, ok := r.tokens[id]
	if ok {
		delete(r.tokens, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	tok.abort(cause)
}

// Release drops the token held by id if it is still tok. The token is aborted
// so that listeners run and the context is freed.
func (r *Registry) Release(tok *Token) {
	r.mu.Lock()
	if cur, ok := r.tokens[tok.id]; ok && cur == tok {
		delete(r.tokens, tok.id)
	}
	r.mu.Unlock()

	tok.abort(ErrReleased)
}

func (t *Token) abort(cause error) {
	if cause == nil {
		cause = ErrReleased
	}
	t.cancel(cause)

	t.mu.Lock()
	stops := t.listeners
	t.listeners = make(map[int]func() bool)
	t.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// AddListener registers fn to run once when the token for id is aborted.
// It returns a handle for RemoveListener.
func (r *Registry) AddListener(id string, fn func()) (int, error) {
	tok, ok := r.Get(id)
	if !ok {
		return 0, ErrUnknownToken
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()

	if len(tok.listeners) >= r.opts.MaxListeners {
		return 0, ErrTooManyListeners
	}
	tok.nextID++
	lid := tok.nextID
	tok.listeners[lid] = context.AfterFunc(tok.ctx, fn)
	return lid, nil
}

// RemoveListener unregisters a listener added with AddListener.
func (r *Registry) RemoveListener(id string, lid int) {
	tok, ok := r.Get(id)
	if !ok {
		return
	}

	tok.mu.Lock()
	stop, ok := tok.listeners[lid]
	delete(tok.listeners, lid)
	tok.mu.Unlock()

	if ok {
		stop()
	}
}

// Sweep aborts and releases every token older than the configured maximum
// age and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.opts.MaxAge <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.MaxAge)

	r.mu.Lock()
	var stale []*Token
	for id, tok := range r.tokens {
		if tok.created.Before(cutoff) {
			stale = append(stale, tok)
			delete(r.tokens, id)
		}
	}
	size := len(r.tokens)
	r.mu.Unlock()

	for _, tok := range stale {
		r.opts.Logger.Warn("aborting expired cancellation token", "task_id", tok.id, "age", r.now().Sub(tok.created))
		tok.abort(ErrExpired)
	}

	if float64(size)/float64(r.opts.MaxTokens) >= pressureThreshold {
		r.opts.Logger.Warn("cancellation pool under pressure", "tokens", size, "capacity", r.opts.MaxTokens)
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Stats returns pool usage.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{
		Tokens:      len(r.tokens),
		Capacity:    r.opts.MaxTokens,
		Utilization: float64(len(r.tokens)) / float64(r.opts.MaxTokens),
	}
	for _, tok := range r.tokens {
		tok.mu.Lock()
		st.Listeners += len(tok.listeners)
		tok.mu.Unlock()
	}
	return st
}
