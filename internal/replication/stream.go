// Package replication defines the interface surface the core requires from
// the upstream logical-replication connection and its frame reader. Framing
// of the replication protocol itself, and snapshot extraction, are external
// collaborators outside this module's scope; only the calls and mutable
// fields the core touches are declared here.
package replication

import "errors"

// ErrSyncPending is returned by a FrameReader's keepalive handling (by
// convention, surfaced from the dispatcher, not the Stream) when the ring
// holds transactions not yet fully checkpointed, telling the frame reader
// to defer advancing its client-side LSN.
var ErrSyncPending = errors.New("sync pending: unflushed transactions remain")

// Stream is the mutable replication-connection state the core observes and
// updates, plus the handful of operations it invokes. The output plugin is
// fixed to "bottledwater" per the wire protocol this bridge speaks.
type Stream interface {
	// FsyncLSN returns the LSN most recently reported durable.
	FsyncLSN() uint64
	// SetFsyncLSN updates the durable LSN. Implementations must make this
	// monotonic (ignore a regression) since it is transmitted to
	// PostgreSQL as the new restart position.
	SetFsyncLSN(uint64)

	// TakingSnapshot reports whether the initial snapshot transaction is
	// still in flight.
	TakingSnapshot() bool
	// ClearTakingSnapshot marks the initial snapshot durable.
	ClearTakingSnapshot()

	// SlotName is the read-only name of the replication slot this stream
	// is attached to.
	SlotName() string

	// SendKeepalive reports the current FsyncLSN to PostgreSQL as a
	// standby status update. Failure is always fatal.
	SendKeepalive() error
	// Poll waits up to timeoutMillis for replication data, returning
	// whether any frame was processed.
	Poll(timeoutMillis int) (bool, error)
	// DropSlot removes the replication slot. Called only when an
	// in-progress initial snapshot failed, so it can be retried cleanly.
	DropSlot() error
}

// FrameReader is the callback surface the upstream WAL decoder invokes.
// Each method returns an error to signal a recoverable condition (handled
// per the process's Error Policy) or a structurally fatal one; callers
// distinguish the two by error value/type, not by a numeric code, per Go
// idiom.
type FrameReader interface {
	OnBeginTxn(walPos uint64, xid uint32) error
	OnCommitTxn(walPos uint64, xid uint32) error
	OnTableSchema(relID uint32, keySchemaJSON, rowSchemaJSON, avroKeySchema, avroRowSchema []byte) error
	OnInsertRow(relID uint32, keyBin, keyVal, newBin, newVal []byte) error
	OnUpdateRow(relID uint32, keyBin, keyVal, oldBin, oldVal, newBin, newVal []byte) error
	OnDeleteRow(relID uint32, keyBin, keyVal, oldBin, oldVal []byte) error
	// OnKeepalive returns ErrSyncPending when unflushed transactions exist.
	OnKeepalive(walPos uint64) error
	OnError(code int, message string) error
}
