// Package recordstore persists the engine's own record of every stream it
// manages. Records are opaque JSON documents keyed by stream name; they seed
// the orphan sweep after a restart, so a record must outlive the process
// that wrote it. Two backends exist: a directory of files for single-node
// deployments and a Postgres table where one is available.
package recordstore

import "errors"

// ErrNotFound reports a Get for a stream that has no record.
var ErrNotFound = errors.New("record not found")

const subsystem = "store.record"
