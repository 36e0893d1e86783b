package config

import (
	"sync"
	"sync/atomic"
)

// Live holds settings that can be re-read from disk while the process runs.
type Live struct {
	path    string
	current atomic.Pointer[Settings]

	mu        sync.Mutex
	listeners []func(*Settings)
}

// NewLive loads path and returns a Live wrapping it.
// An empty path yields defaults that Reload never changes.
func NewLive(path string) (*Live, error) {
	l := &Live{path: path}
	if path == "" {
		l.current.Store(DefaultSettings())
		return l, nil
	}

	settings, err := Load(path)
	if err != nil {
		return nil, err
	}
	l.current.Store(settings)
	return l, nil
}

// NewStatic returns a Live that always serves settings.
func NewStatic(settings *Settings) *Live {
	l := &Live{}
	l.current.Store(settings)
	return l
}

// Get returns the current settings. Callers must not modify the result.
func (l *Live) Get() *Settings {
	return l.current.Load()
}

// OnChange registers fn to run after every successful Reload.
func (l *Live) OnChange(fn func(*Settings)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Reload re-reads the settings file and notifies listeners.
// On error the previous settings stay in effect.
func (l *Live) Reload() error {
	if l.path == "" {
		return nil
	}

	settings, err := Load(l.path)
	if err != nil {
		return err
	}
	l.current.Store(settings)

	l.mu.Lock()
	listeners := append([]func(*Settings){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(settings)
	}
	return nil
}
