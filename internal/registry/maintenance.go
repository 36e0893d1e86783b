package registry

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"

	"golang.org/x/sync/singleflight"

	"github.com/handiism/pixiv-downloader/internal/model"
)

// RebuildResult counts what a Rebuild found.
type RebuildResult struct {
	Scanned int `json:"scanned"`
	Added   int `json:"added"`
	Invalid int `json:"invalid"`
}

// CleanupResult counts what a Cleanup removed.
type CleanupResult struct {
	Checked        int `json:"checked"`
	Removed        int `json:"removed"`
	ArtistsRemoved int `json:"artists_removed"`
}

// Maintenance reconciles a Registry with the downloads tree. Concurrent calls
// of the same operation share one run.
type Maintenance struct {
	reg    Registry
	logger *slog.Logger
	group  singleflight.Group
}

// NewMaintenance returns a Maintenance operating on reg.
func NewMaintenance(reg Registry, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{reg: reg, logger: logger}
}

// Rebuild scans <artist>/<artwork dir> in fsys and adds every artwork whose
// directory name resolves to an id, holds an info record for that id, and is
// missing from the registry.
func (m *Maintenance) Rebuild(ctx context.Context, fsys fs.FS, resolver *model.Resolver) (RebuildResult, error) {
	v, err, shared := m.group.Do("rebuild", func() (any, error) {
		return m.rebuild(ctx, fsys, resolver)
	})
	if shared {
		m.logger.Debug("joined running registry rebuild")
	}
	res, _ := v.(RebuildResult)
	return res, err
}

func (m *Maintenance) rebuild(ctx context.Context, fsys fs.FS, resolver *model.Resolver) (RebuildResult, error) {
	var res RebuildResult

	artists, err := fs.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, err
	}

	for _, artist := range artists {
		if !artist.IsDir() {
			continue
		}
		known, err := m.known(ctx, artist.Name())
		if err != nil {
			return res, err
		}

		dirs, err := fs.ReadDir(fsys, artist.Name())
		if err != nil {
			m.logger.Warn("skip unreadable artist directory", "artist", artist.Name(), "error", err)
			continue
		}
		for _, dir := range dirs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !dir.IsDir() {
				continue
			}
			res.Scanned++

			id, ok := validArtworkDir(fsys, resolver, artist.Name(), dir.Name())
			if !ok {
				res.Invalid++
				continue
			}
			if known[id] {
				continue
			}
			if err := m.reg.Add(ctx, artist.Name(), id); err != nil {
				return res, err
			}
			known[id] = true
			res.Added++
		}
	}

	m.logger.Info("rebuilt registry from filesystem", "scanned", res.Scanned, "added", res.Added, "invalid", res.Invalid)
	return res, nil
}

// Cleanup removes entries whose directory or info record is gone, then
// removes artists left with no artworks.
func (m *Maintenance) Cleanup(ctx context.Context, fsys fs.FS, resolver *model.Resolver) (CleanupResult, error) {
	v, err, _ := m.group.Do("cleanup", func() (any, error) {
		return m.cleanup(ctx, fsys, resolver)
	})
	res, _ := v.(CleanupResult)
	return res, err
}

func (m *Maintenance) cleanup(ctx context.Context, fsys fs.FS, resolver *model.Resolver) (CleanupResult, error) {
	var res CleanupResult

	artists, err := m.reg.Artists(ctx)
	if err != nil {
		return res, err
	}

	for _, artist := range artists {
		ids, err := m.reg.ArtistArtworks(ctx, artist)
		if err != nil {
			return res, err
		}
		present := presentArtworks(fsys, resolver, artist)

		remaining := len(ids)
		for _, id := range ids {
			res.Checked++
			if present[id] {
				continue
			}
			if err := m.reg.Remove(ctx, artist, id); err != nil {
				return res, err
			}
			m.logger.Debug("removed stale registry entry", "artist", artist, "artwork_id", id)
			res.Removed++
			remaining--
		}

		if remaining == 0 {
			if err := m.reg.RemoveArtist(ctx, artist); err != nil {
				return res, err
			}
			res.ArtistsRemoved++
		}
	}

	m.logger.Info("cleaned up registry", "checked", res.Checked, "removed", res.Removed, "artists_removed", res.ArtistsRemoved)
	return res, nil
}

func (m *Maintenance) known(ctx context.Context, artist string) (map[int64]bool, error) {
	ids, err := m.reg.ArtistArtworks(ctx, artist)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

// presentArtworks returns the ids of artist's valid artwork directories.
func presentArtworks(fsys fs.FS, resolver *model.Resolver, artist string) map[int64]bool {
	present := map[int64]bool{}
	dirs, err := fs.ReadDir(fsys, artist)
	if err != nil {
		return present
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		if id, ok := validArtworkDir(fsys, resolver, artist, dir.Name()); ok {
			present[id] = true
		}
	}
	return present
}

// validArtworkDir resolves the artwork id of a directory and checks that it
// holds an info record for the same id.
func validArtworkDir(fsys fs.FS, resolver *model.Resolver, artist, name string) (int64, bool) {
	id, _, ok := resolver.Parse(name)
	if !ok {
		return 0, false
	}
	rec, err := model.ReadInfoRecordFS(fsys, path.Join(artist, name))
	if err != nil || rec.ArtworkID != id {
		return 0, false
	}
	return id, true
}
