package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/handiism/pixiv-downloader/internal/task"
)

// DefaultInterval is the throttle window used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Subscription receives projections of one task on C.
type Subscription struct {
	TaskID string
	C      <-chan task.Task

	c      chan task.Task
	closed bool
}

// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	windows map[string]*window
}

type window struct {
	last    time.Time
	pending *task.Task
	timer   *time.Timer
}

// New returns a Broadcaster throttling progress publishes to one per interval.
func New(interval time.Duration, logger *slog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		interval: interval,
		logger:   logger,
		now:      time.Now,
		subs:     make(map[string]map[*Subscription]struct{}),
		windows:  make(map[string]*window),
	}
}

// Subscribe registers a new subscriber for taskID.
func (b *Broadcaster) Subscribe(taskID string) *Subscription {
	c := make(chan task.Task, 1)
	sub := &Subscription{TaskID: taskID, C: c, c: c}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[taskID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call more
// than once and after the broadcaster has already closed the subscription.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[sub.TaskID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.TaskID)
		}
	}
	closeSub(sub)
}

// Subscribers returns the number of live subscriptions for taskID.
func (b *Broadcaster) Subscribers(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}

// Publish delivers t to the subscribers of t.ID, subject to throttling.
func (b *Broadcaster) Publish(t task.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.State.Terminal() || t.State == task.StatePaused {
		b.flush(t)
		return
	}

	w, ok := b.windows[t.ID]
	if !ok {
		w = &window{}
		b.windows[t.ID] = w
	}

	now := b.now()
	if w.timer == nil && now.Sub(w.last) >= b.interval {
		w.last = now
		b.deliver(t)
		return
	}

	snapshot := t.Clone()
	w.pending = &snapshot
	if w.timer == nil {
		wait := b.interval - now.Sub(w.last)
		id := t.ID
		w.timer = time.AfterFunc(wait, func() { b.fire(id, w) })
	}
}

// fire runs when a throttle window closes with a pending projection.
func (b *Broadcaster) fire(id string, w *window) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.windows[id] != w {
		return
	}
	w.timer = nil
	if w.pending == nil {
		return
	}
	pending := *w.pending
	w.pending = nil
	w.last = b.now()
	b.deliver(pending)
}

// flush delivers t immediately, dropping any pending throttled projection,
// then closes every subscription for the task.
func (b *Broadcaster) flush(t task.Task) {
	if w, ok := b.windows[t.ID]; ok {
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(b.windows, t.ID)
	}

	b.deliver(t)

	for sub := range b.subs[t.ID] {
		closeSub(sub)
	}
	delete(b.subs, t.ID)
	b.logger.Debug("closed progress subscriptions", "task_id", t.ID, "state", t.State)
}

// deliver runs with b.mu held. Only publishers send, so after draining a
// full slot the send cannot block.
func (b *Broadcaster) deliver(t task.Task) {
	for sub := range b.subs[t.ID] {
		if sub.closed {
			continue
		}
		select {
		case sub.c <- t.Clone():
			continue
		default:
		}
		select {
		case <-sub.c:
		default:
		}
		sub.c <- t.Clone()
	}
}

func closeSub(sub *Subscription) {
	if !sub.closed {
		sub.closed = true
		close(sub.c)
	}
}
