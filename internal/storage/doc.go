// Package storage persists kibot's durable state as a small set of named
// collections ("subscriptions", "baselines"), each holding one structured
// JSON value. Collections are read once on start and written synchronously
// on every mutation.
//
// Drivers:
//   - "file": one JSON file per collection, written via temp-file + rename
//     so a crash mid-write never corrupts previously committed state
//   - "sqlite": single database file (optional, build with -tags sqlite)
package storage
