// Package storage persists guild plugin configuration, standup jobs (with
// their fire history) and the configuration audit trail.
//
// Drivers:
//   - memory: maps guarded by a mutex, used by tests and ephemeral runs
//   - file: JSON snapshot plus append-only journal, compacted periodically
//   - sqlite: modernc.org/sqlite with embedded migrations
package storage
