// Package storage persists diagnostic traces: task registrations and releases
// recorded by the diagnostic registry, plus forwarded warning/error log lines.
//
// Two backends exist:
//   - "file": JSON Lines file, compacted by age
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
