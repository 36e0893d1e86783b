// Package database opens the SQLite file used by the relational registry
// backend.
//
// Connections use the pure-Go modernc.org/sqlite driver with WAL journaling,
// a busy timeout and foreign keys enabled.
package database
