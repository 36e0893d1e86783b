package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/handiism/pixiv-downloader/internal/config"
)

// Switch is a Registry that forwards to the backend selected by the current
// settings. Apply swaps the backend in place; callers holding the Switch see
// the new backend on their next call.
type Switch struct {
	logger *slog.Logger
	open   func(*config.Settings, *slog.Logger) (Registry, error)

	mu  sync.RWMutex
	cur Registry
}

// NewSwitch opens the backend named by settings.
func NewSwitch(settings *config.Settings, logger *slog.Logger) (*Switch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Switch{logger: logger, open: Open}
	reg, err := s.open(settings, logger)
	if err != nil {
		return nil, err
	}
	s.cur = reg
	return s, nil
}

// Apply re-opens the registry when settings name a different backend. The
// previous backend is closed once no call is using it.
func (s *Switch) Apply(settings *config.Settings) error {
	want := settings.RegistryBackend
	if want == "" {
		want = config.BackendJSON
	}

	s.mu.RLock()
	same := s.cur.Backend() == want
	s.mu.RUnlock()
	if same {
		return nil
	}

	next, err := s.open(settings, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.cur
	s.cur = next
	s.mu.Unlock()

	s.logger.Info("switched registry backend", "from", prev.Backend(), "to", next.Backend())
	if err := prev.Close(); err != nil {
		s.logger.Warn("close previous registry backend", "backend", prev.Backend(), "error", err)
	}
	return nil
}

// Current returns the active backend.
func (s *Switch) Current() Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Switch) IsDownloaded(ctx context.Context, artworkID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.IsDownloaded(ctx, artworkID)
}

func (s *Switch) Add(ctx context.Context, artist string, artworkID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Add(ctx, artist, artworkID)
}

func (s *Switch) Remove(ctx context.Context, artist string, artworkID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Remove(ctx, artist, artworkID)
}

func (s *Switch) ArtistArtworks(ctx context.Context, artist string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.ArtistArtworks(ctx, artist)
}

func (s *Switch) Artists(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Artists(ctx)
}

func (s *Switch) RemoveArtist(ctx context.Context, artist string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.RemoveArtist(ctx, artist)
}

func (s *Switch) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Stats(ctx)
}

func (s *Switch) Export(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Export(ctx)
}

func (s *Switch) Import(ctx context.Context, snap *Snapshot) (ImportResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Import(ctx, snap)
}

func (s *Switch) Clear(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clear(ctx)
}

func (s *Switch) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Backend()
}

func (s *Switch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Close()
}
