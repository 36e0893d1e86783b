package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/handiism/pixiv-downloader/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS artists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	artwork_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT
);

CREATE TABLE IF NOT EXISTS artworks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	artist_id INTEGER NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
	artwork_id INTEGER NOT NULL,
	created_at TEXT,
	UNIQUE(artist_id, artwork_id)
);

CREATE INDEX IF NOT EXISTS idx_artworks_artwork_id ON artworks(artwork_id);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

const metaUpdatedAt = "updated_at"

// SQLStore is the relational backend.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQL creates the schema if needed and returns a store owning db.
func NewSQL(db *sql.DB, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create registry schema: %w", err)
	}
	return &SQLStore{db: db, logger: logger.With("backend", config.BackendSQLite), now: time.Now}, nil
}

func (s *SQLStore) Backend() string { return config.BackendSQLite }

func (s *SQLStore) IsDownloaded(ctx context.Context, artworkID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM artworks WHERE artwork_id = ? LIMIT 1`, artworkID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) Add(ctx context.Context, artist string, artworkID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx, now string) error {
		_, err := s.add(ctx, tx, now, artist, artworkID)
		return err
	})
}

// add inserts one entry and re-derives the artist's count from its rows.
func (s *SQLStore) add(ctx context.Context, tx *sql.Tx, now, artist string, artworkID int64) (bool, error) {
	artistID, err := s.ensureArtist(ctx, tx, artist, now)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO artworks (artist_id, artwork_id, created_at) VALUES (?, ?, ?)`,
		artistID, artworkID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, recount(ctx, tx, artistID, now)
}

func (s *SQLStore) ensureArtist(ctx context.Context, tx *sql.Tx, artist, now string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO artists (name, artwork_count, updated_at) VALUES (?, 0, ?)`,
		artist, now); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM artists WHERE name = ?`, artist).Scan(&id)
	return id, err
}

func recount(ctx context.Context, tx *sql.Tx, artistID int64, now string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE artists
		SET artwork_count = (SELECT COUNT(*) FROM artworks WHERE artist_id = ?), updated_at = ?
		WHERE id = ?`, artistID, now, artistID)
	return err
}

func (s *SQLStore) Remove(ctx context.Context, artist string, artworkID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx, now string) error {
		var artistID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM artists WHERE name = ?`, artist).Scan(&artistID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM artworks WHERE artist_id = ? AND artwork_id = ?`, artistID, artworkID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM artists
			WHERE id = ? AND NOT EXISTS (SELECT 1 FROM artworks WHERE artist_id = ?)`, artistID, artistID); err != nil {
			return err
		}
		return recount(ctx, tx, artistID, now)
	})
}

func (s *SQLStore) ArtistArtworks(ctx context.Context, artist string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aw.artwork_id FROM artworks aw
		JOIN artists a ON a.id = aw.artist_id
		WHERE a.name = ?
		ORDER BY aw.artwork_id DESC`, artist)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Artists(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM artists ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLStore) RemoveArtist(ctx context.Context, artist string) error {
	return s.inTx(ctx, func(tx *sql.Tx, _ string) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM artworks WHERE artist_id IN (SELECT id FROM artists WHERE name = ?)`, artist); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM artists WHERE name = ?`, artist)
		return err
	})
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: config.BackendSQLite}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artists`).Scan(&st.Artists); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artworks`).Scan(&st.Artworks); err != nil {
		return st, err
	}

	var updated sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, metaUpdatedAt).Scan(&updated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, err
	}
	if updated.Valid {
		st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated.String)
	}
	return st, nil
}

func (s *SQLStore) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.now().UTC(),
		Backend:    config.BackendSQLite,
		Artists:    map[string][]int64{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.name, aw.artwork_id FROM artists a
		LEFT JOIN artworks aw ON aw.artist_id = a.id
		ORDER BY a.name, aw.artwork_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var id sql.NullInt64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		ids := snap.Artists[name]
		if ids == nil {
			ids = []int64{}
		}
		if id.Valid {
			ids = append(ids, id.Int64)
		}
		snap.Artists[name] = ids
	}
	return snap, rows.Err()
}

func (s *SQLStore) Import(ctx context.Context, snap *Snapshot) (ImportResult, error) {
	var res ImportResult
	err := s.inTx(ctx, func(tx *sql.Tx, now string) error {
		for artist, ids := range snap.Artists {
			if _, err := s.ensureArtist(ctx, tx, artist, now); err != nil {
				return err
			}
			for _, id := range ids {
				added, err := s.add(ctx, tx, now, artist, id)
				if err != nil {
					return err
				}
				if added {
					res.Added++
				} else {
					res.Skipped++
				}
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("imported registry snapshot", "added", res.Added, "skipped", res.Skipped)
	return res, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx, _ string) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM artworks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM artists`)
		return err
	})
}

func (s *SQLStore) Close() error { return s.db.Close() }

// inTx runs fn in a transaction and stamps the metadata update time on commit.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx, now string) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	if err := fn(tx, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaUpdatedAt, now); err != nil {
		return err
	}
	return tx.Commit()
}
