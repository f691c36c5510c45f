// Package entity provides the in-memory model of test-management data.
//
// This package contains type definitions only. All other internal packages
// import entity; entity imports nothing internal.
//
// An Entity is one record of a fixed Kind. Each kind has a static Schema
// describing its natural key, its mutable fields and its links to other
// entities. Field values are restricted to the sealed Value types so that
// documents encode deterministically:
//   - NO float types anywhere, use Int for numbers
//   - NO null, absent fields are simply missing
//   - All JSON keys use snake_case
//
// Within a document every entity carries a local reference id (Ref). Links
// between entities are expressed as Refs so that a document never depends on
// identifiers assigned by a particular store.
package entity
