package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_PoolBound(t *testing.T) {
	r := NewRegistry(Options{MaxTokens: 50})

	for i := 0; i < 50; i++ {
		if _, err := r.Create(fmt.Sprintf("task-%d", i)); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	tok, err := r.Create("task-50")
	if !errors.Is(err, ErrPoolFull) || tok != nil {
		t.Fatalf("51st Create = (%v, %v), want (nil, ErrPoolFull)", tok, err)
	}

	r.AbortAndRelease("task-0", nil)
	if _, err := r.Create("task-50"); err != nil {
		t.Errorf("Create after a slot freed: %v", err)
	}
	if got := r.Stats().Tokens; got != 50 {
		t.Errorf("Tokens = %d, want 50", got)
	}
}

func TestRegistry_AbortCarriesCause(t *testing.T) {
	r := NewRegistry(Options{})
	tok, err := r.Create("a")
	if err != nil {
		t.Fatal(err)
	}

	pause := errors.New("paused")
	r.AbortAndRelease("a", pause)

	if !tok.Aborted() {
		t.Fatal("token not aborted")
	}
	if cause := context.Cause(tok.Context()); !errors.Is(cause, pause) {
		t.Errorf("cause = %v, want %v", cause, pause)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("token still registered")
	}
}

func TestRegistry_CreateReplacesExisting(t *testing.T) {
	r := NewRegistry(Options{})
	first, _ := r.Create("a")
	second, err := r.Create("a")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Aborted() {
		t.Error("replaced token should be aborted")
	}
	if second.Aborted() {
		t.Error("new token should be live")
	}
	if r.Stats().Tokens != 1 {
		t.Errorf("Tokens = %d, want 1", r.Stats().Tokens)
	}
}

func TestRegistry_CreateReleasesReplacedListeners(t *testing.T) {
	r := NewRegistry(Options{})
	first, _ := r.Create("a")
	fired := make(chan struct{}, 2)
	for range 2 {
		if _, err := r.AddListener("a", func() { fired <- struct{}{} }); err != nil {
			t.Fatal(err)
		}
	}
	if n := r.Stats().Listeners; n != 2 {
		t.Fatalf("Listeners = %d, want 2", n)
	}

	if _, err := r.Create("a"); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("listener of replaced token did not run")
		}
	}
	if n := r.Stats().Listeners; n != 0 {
		t.Errorf("Listeners = %d after replace, want 0", n)
	}
	first.mu.Lock()
	left := len(first.listeners)
	first.mu.Unlock()
	if left != 0 {
		t.Errorf("replaced token still holds %d listeners", left)
	}
	if cause := context.Cause(first.Context()); !errors.Is(cause, ErrReleased) {
		t.Errorf("cause = %v, want ErrReleased", cause)
	}
}

func TestRegistry_ListenerCap(t *testing.T) {
	r := NewRegistry(Options{MaxListeners: 2})
	if _, err := r.Create("a"); err != nil {
		t.Fatal(err)
	}

	var fired atomic.Int32
	l1, err := r.AddListener("a", func() { fired.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddListener("a", func() { fired.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddListener("a", func() {}); !errors.Is(err, ErrTooManyListeners) {
		t.Errorf("third listener err = %v, want ErrTooManyListeners", err)
	}

	r.RemoveListener("a", l1)
	if _, err := r.AddListener("a", func() { fired.Add(1) }); err != nil {
		t.Errorf("listener after removal: %v", err)
	}

	r.AbortAndRelease("a", nil)

	deadline := time.Now().Add(time.Second)
	for fired.Load() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fired.Load(); got != 2 {
		t.Errorf("listeners fired = %d, want 2", got)
	}

	if _, err := r.AddListener("a", func() {}); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("AddListener on released token err = %v", err)
	}
}

func TestRegistry_SweepExpiresOldTokens(t *testing.T) {
	r := NewRegistry(Options{MaxAge: time.Hour})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	old, _ := r.Create("old")
	now = now.Add(50 * time.Minute)
	fresh, _ := r.Create("fresh")
	now = now.Add(20 * time.Minute)

	if n := r.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if !errors.Is(context.Cause(old.Context()), ErrExpired) {
		t.Errorf("old cause = %v", context.Cause(old.Context()))
	}
	if fresh.Aborted() {
		t.Error("fresh token aborted")
	}
}
