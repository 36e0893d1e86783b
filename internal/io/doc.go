// Package ioutils provides the file operator: verified downloads and safe
// file system primitives.
//
// This package contains functions for:
//   - Retrying, integrity-checked single-file downloads (Operator.Download)
//   - Content-signature integrity checks (CheckIntegrity)
//   - Directory creation, deletion and moves that retry transient failures
//   - Atomic file writes and filename sanitization
//
// # Downloads
//
// A download streams into "<dest>.part", is checked with CheckIntegrity and
// only then renamed onto dest, so a dest path either holds a verified file or
// nothing written by this run:
//
//	op := ioutils.NewOperator(client, downloadPolicy, fsPolicy, logger)
//	err := op.Download(ctx, imageURL, "/pictures/a/1_t/1_p0.png", nil)
//
// # Retry Classification
//
// IsRetryable sorts errors into the retry taxonomy:
//   - not-found (HTTP 404, fs.ErrNotExist): never retried
//   - read-only file systems: never retried
//   - busy, permission, too-many-open-files: retried with backoff
//   - integrity failures: the file is deleted and fetched again
//   - network failures and 5xx/429 responses: retried
//
// # Filename Sanitization
//
//	safe := ioutils.SanitizeFileName("Title: Part 1/2") // Returns "Title_ Part 1_2"
package ioutils
