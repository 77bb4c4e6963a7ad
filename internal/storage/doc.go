// Package storage keeps a history of tasklet runs and threadlet outcomes.
//
// Drivers:
//   - "file": JSON Lines appended to <path-without-ext>.runs.jsonl
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
