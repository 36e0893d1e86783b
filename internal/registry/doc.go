// Package registry records which artworks have been fully downloaded and
// verified, so later runs can skip them.
//
// # Backends
//
// Two interchangeable implementations satisfy Registry:
//
//   - JSONStore keeps an artist → artwork ids map in a single JSON file,
//     rewritten atomically after every change.
//   - SQLStore keeps three tables (artists, artworks, metadata) in SQLite with
//     UNIQUE(artist_id, artwork_id) and a foreign key from artworks to artists.
//     An artist's artwork_count is always re-derived from its child rows.
//
// Open picks one from config.Settings.RegistryBackend. Switch wraps the active
// backend and re-opens it when the setting changes on reload.
//
// # Maintenance
//
// Maintenance.Rebuild walks <artist>/<artwork dir> folders and adds artworks
// whose directory holds a valid info.json but are missing from the registry.
// Maintenance.Cleanup removes entries whose directory or info.json is gone,
// then drops artists left empty.
//
// # Migration
//
// Migrate copies one backend into another (overwrite or merge) after writing
// a pre-migration snapshot of the destination, which Rollback can restore.
// Compare reports artists present only in A, only in B, or in both.
package registry
