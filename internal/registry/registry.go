package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/database"
	ioutils "github.com/handiism/pixiv-downloader/internal/io"
)

// SnapshotVersion marks the export format.
const SnapshotVersion = 1

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown registry backend")

// Registry is the dedup ledger of fully verified downloads, keyed by artist
// directory name and artwork id. Implementations are safe for concurrent use
// and every write is idempotent.
type Registry interface {
	// IsDownloaded reports whether artworkID is recorded under any artist.
	IsDownloaded(ctx context.Context, artworkID int64) (bool, error)

	// Add records artworkID under artist. Re-adding is a no-op.
	Add(ctx context.Context, artist string, artworkID int64) error

	// Remove deletes one entry. An artist left without artworks is dropped.
	Remove(ctx context.Context, artist string, artworkID int64) error

	// ArtistArtworks returns the artwork ids of artist, newest (highest) first.
	ArtistArtworks(ctx context.Context, artist string) ([]int64, error)

	// Artists returns every artist name, sorted.
	Artists(ctx context.Context) ([]string, error)

	// RemoveArtist deletes artist and all of its entries.
	RemoveArtist(ctx context.Context, artist string) error

	Stats(ctx context.Context) (Stats, error)

	// Export dumps the whole registry.
	Export(ctx context.Context) (*Snapshot, error)

	// Import adds every entry of snap. Existing entries are left untouched.
	Import(ctx context.Context, snap *Snapshot) (ImportResult, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Backend names the implementation: config.BackendJSON or config.BackendSQLite.
	Backend() string

	Close() error
}

// Stats summarises a registry.
type Stats struct {
	Backend   string    `json:"backend"`
	Artists   int       `json:"artists"`
	Artworks  int       `json:"artworks"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Snapshot is the portable form of a registry.
type Snapshot struct {
	Version    int                `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Backend    string             `json:"backend"`
	Artists    map[string][]int64 `json:"artists"`
}

// Artworks returns the number of entries in s.
func (s *Snapshot) Artworks() int {
	n := 0
	for _, ids := range s.Artists {
		n += len(ids)
	}
	return n
}

// ImportResult counts what an Import changed.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Open opens the backend selected by settings.RegistryBackend.
func Open(settings *config.Settings, logger *slog.Logger) (Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch settings.RegistryBackend {
	case config.BackendJSON, "":
		return OpenJSON(settings.RegistryPath(), logger)
	case config.BackendSQLite:
		db, err := database.Init(settings.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite registry: %w", err)
		}
		reg, err := NewSQL(db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		return reg, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, settings.RegistryBackend)
}

// WriteSnapshot stores snap as indented JSON at path.
func WriteSnapshot(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return ioutils.WriteFileAtomic(path, data)
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d", path, snap.Version)
	}
	if snap.Artists == nil {
		snap.Artists = map[string][]int64{}
	}
	return &snap, nil
}

func sortDesc(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
}
