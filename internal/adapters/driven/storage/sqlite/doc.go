// Package sqlite provides the SQLite implementation of the relational store.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. One database holds:
//
//   - documents and chunks (driven.RelationalStore)
//   - scheduler task state and run history (driven.SchedulerStore)
//
// # Schema
//
// The schema is managed through numbered migrations embedded from the
// migrations/ directory. Applied versions are recorded in schema_migrations.
//
// # Data Location
//
// By default, the database is stored at ~/.sercha-kb/data/knowledge.db
//
// # Thread Safety
//
// All operations are thread-safe. The store relies on SQLite's WAL mode and
// a busy timeout for concurrent writers.
package sqlite
