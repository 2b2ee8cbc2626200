// Package storage persists snapshots of local limiter state.
//
// # Overview
//
// Local window logs live in process memory. To survive a restart the
// maintenance scheduler periodically saves them to a Backend, and serve
// restores them at start:
//
//   - Memory: in-process backend, useful in tests and as a no-op default
//   - SQLite: file backed, through either the pure Go "sqlite" driver or the
//     cgo "sqlite3" driver
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("data/quotaguard.db")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	err = backend.Replace(ctx, "user-model", states)
//
// States are grouped by dimension, which is the tier name. Replace swaps all
// states of one tier in a single transaction so keys that emptied since the
// previous snapshot do not come back.
//
// # Thread Safety
//
// All backends are safe for concurrent use.
package storage
