// Package stores provides the SQLite-backed run history: run reports,
// per-entry outcomes, and run events, with schema migrations embedded in
// the binary.
package stores
