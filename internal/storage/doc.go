// Package storage persists job definitions and execution records.
//
// Drivers:
//   - "sqlite": embedded SQLite file (modernc.org/sqlite, pure Go)
//   - "postgres": PostgreSQL via lib/pq
//   - "memory": process-local, for tests and dry runs
package storage
