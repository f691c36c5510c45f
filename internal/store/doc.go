// Package store provides a SQLite-backed entity repository.
//
// It is the reference implementation of repository.Repository:
//   - entities: one row per record, unique per (kind, natural_key)
//   - links: ordered link targets, indexed by target for reverse lookups
//   - attachments: binary attachment content addressed by path
//
// # Deterministic Reads
//
// All list queries order by id ASC, so two reads of an unchanged store
// return records in the same order. The exporter relies on this for
// byte-identical documents.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Field and key values are stored as canonical JSON produced by
// entity.MarshalCanonical.
package store
