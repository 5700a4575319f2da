// Package stores provides the persistence layer for GroundWork.
// It includes a SQLite-backed state store with WAL mode, embedded
// schema migrations, and storage for observed resources, plans, run
// reports, facts, and the event timeline, plus full-store backup and
// restore.
package stores
