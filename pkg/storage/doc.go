// Package storage provides the GORM-backed persistence layer for the
// marketplace core.
//
// The store is the single source of truth for job state. Conflicting writes
// to the same job are serialized by the concurrency token: every mutation
// goes through UpdateIfTokenMatches, which re-checks the token inside a
// transaction and guards the write with a WHERE clause on the old value.
//
// SQLite (in-memory or file) is the default backend; PostgreSQL works
// through the same GORM models and is exercised when TEST_DATABASE_URL is
// set.
package storage
