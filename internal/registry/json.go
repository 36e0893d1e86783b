package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/handiism/pixiv-downloader/internal/config"
	ioutils "github.com/handiism/pixiv-downloader/internal/io"
)

type jsonFile struct {
	Version   int                `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Artists   map[string][]int64 `json:"artists"`
}

// JSONStore is the flat-file backend.
type JSONStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	artists   map[string]map[int64]struct{}
	refs      map[int64]int // artwork id → number of artists holding it
	updatedAt time.Time
}

// OpenJSON loads the registry file at path. A missing file is an empty registry.
func OpenJSON(path string, logger *slog.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &JSONStore{
		path:    path,
		logger:  logger.With("backend", config.BackendJSON),
		now:     time.Now,
		artists: make(map[string]map[int64]struct{}),
		refs:    make(map[int64]int),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var f jsonFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	for artist, ids := range f.Artists {
		set := make(map[int64]struct{}, len(ids))
		s.artists[artist] = set
		for _, id := range ids {
			if _, dup := set[id]; !dup {
				set[id] = struct{}{}
				s.refs[id]++
			}
		}
	}
	s.updatedAt = f.UpdatedAt
	return s, nil
}

func (s *JSONStore) Backend() string { return config.BackendJSON }

func (s *JSONStore) IsDownloaded(ctx context.Context, artworkID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refs[artworkID] > 0, ctx.Err()
}

func (s *JSONStore) Add(ctx context.Context, artist string, artworkID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.add(artist, artworkID) {
		return nil
	}
	return s.save()
}

// add reports whether the entry was new. It runs with s.mu held.
func (s *JSONStore) add(artist string, artworkID int64) bool {
	set, ok := s.artists[artist]
	if !ok {
		set = make(map[int64]struct{})
		s.artists[artist] = set
	}
	if _, dup := set[artworkID]; dup {
		return false
	}
	set[artworkID] = struct{}{}
	s.refs[artworkID]++
	return true
}

func (s *JSONStore) Remove(ctx context.Context, artist string, artworkID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.artists[artist]
	if !ok {
		return nil
	}
	if _, ok := set[artworkID]; !ok {
		return nil
	}
	delete(set, artworkID)
	s.unref(artworkID)
	if len(set) == 0 {
		delete(s.artists, artist)
	}
	return s.save()
}

func (s *JSONStore) unref(id int64) {
	if s.refs[id]--; s.refs[id] <= 0 {
		delete(s.refs, id)
	}
}

func (s *JSONStore) ArtistArtworks(ctx context.Context, artist string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.artists[artist]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortDesc(ids)
	return ids, ctx.Err()
}

func (s *JSONStore) Artists(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.artists))
	for name := range s.artists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, ctx.Err()
}

func (s *JSONStore) RemoveArtist(ctx context.Context, artist string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.artists[artist]
	if !ok {
		return nil
	}
	for id := range set {
		s.unref(id)
	}
	delete(s.artists, artist)
	return s.save()
}

func (s *JSONStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Backend: config.BackendJSON, Artists: len(s.artists), UpdatedAt: s.updatedAt}
	for _, set := range s.artists {
		st.Artworks += len(set)
	}
	return st, ctx.Err()
}

func (s *JSONStore) Export(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.now().UTC(),
		Backend:    config.BackendJSON,
		Artists:    s.snapshot(),
	}, ctx.Err()
}

func (s *JSONStore) snapshot() map[string][]int64 {
	out := make(map[string][]int64, len(s.artists))
	for artist, set := range s.artists {
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sortDesc(ids)
		out[artist] = ids
	}
	return out
}

func (s *JSONStore) Import(ctx context.Context, snap *Snapshot) (ImportResult, error) {
	var res ImportResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for artist, ids := range snap.Artists {
		if _, ok := s.artists[artist]; !ok {
			s.artists[artist] = make(map[int64]struct{})
		}
		for _, id := range ids {
			if s.add(artist, id) {
				res.Added++
			} else {
				res.Skipped++
			}
		}
	}
	s.logger.Info("imported registry snapshot", "added", res.Added, "skipped", res.Skipped)
	return res, s.save()
}

func (s *JSONStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.artists = make(map[string]map[int64]struct{})
	s.refs = make(map[int64]int)
	return s.save()
}

func (s *JSONStore) Close() error { return nil }

// save runs with s.mu held.
func (s *JSONStore) save() error {
	s.updatedAt = s.now().UTC()
	data, err := json.MarshalIndent(jsonFile{
		Version:   SnapshotVersion,
		UpdatedAt: s.updatedAt,
		Artists:   s.snapshot(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutils.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
