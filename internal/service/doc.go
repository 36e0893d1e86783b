// Package service is the façade the CLI, TUI and route layer talk to.
//
// It turns user requests into executor tasks:
//   - DownloadArtwork: one artwork
//   - DownloadMultiple: a deduplicated id list
//   - DownloadArtist: an artist's works, paged up to a limit
//   - DownloadRanking: a ranking listing, paged up to a limit
//
// Batch requests drop ids already in the registry before the task starts
// and record how many were skipped. ParseTarget reads the free-form input
// of the CLI and TUI and Start dispatches it.
//
// # Registry Maintenance
//
// Rebuild, cleanup, export, import, migrate, compare and rollback are exposed
// here so every front end shares one implementation.
package service
