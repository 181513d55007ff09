package checkpoint

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/estuary/pg-kafka-bridge/internal/metrics"
	"github.com/estuary/pg-kafka-bridge/internal/replication"
	"github.com/estuary/pg-kafka-bridge/internal/txn"
)

func TestSnapshotThenOneCommit(t *testing.T) {
	var ring = txn.NewRing(10)
	var stream = replication.NewFakeStream("slot")
	var eng = New(ring, stream)

	ref, err := ring.Begin(0)
	require.NoError(t, err)
	rec, _ := ring.Lookup(ref)
	rec.ReceivedEvents++
	rec.PendingEvents++

	eng.Advance() // still pending, no-op
	require.False(t, ring.Empty())

	rec.PendingEvents--
	rec.CommitLSN = 0x100

	eng.Advance()
	require.True(t, ring.Empty())
	require.Equal(t, uint64(0x100), stream.FsyncLSN())
	require.False(t, stream.TakingSnapshot())
}

func TestTwoInterleavedTransactions(t *testing.T) {
	var ring = txn.NewRing(10)
	var stream = replication.NewFakeStream("slot")
	var eng = New(ring, stream)

	ref1, _ := ring.Begin(1)
	rec1, _ := ring.Lookup(ref1)
	rec1.PendingEvents = 1
	rec1.CommitLSN = 0x200

	ref2, _ := ring.Begin(2)
	rec2, _ := ring.Lookup(ref2)
	rec2.PendingEvents = 1
	rec2.CommitLSN = 0x210

	// tx2 acks before tx1: fsync_lsn must not advance past tx1's head.
	rec2.PendingEvents = 0
	eng.Advance()
	require.Equal(t, uint64(0), stream.FsyncLSN())

	rec1.PendingEvents = 0
	eng.Advance()
	require.Equal(t, uint64(0x210), stream.FsyncLSN())
	require.True(t, ring.Empty())
}

func TestOutOfOrderCommitIsWarnedNotFatal(t *testing.T) {
	var ring = txn.NewRing(10)
	var stream = replication.NewFakeStream("slot")
	stream.SetFsyncLSN(0x500)
	var eng = New(ring, stream)
	eng.Metrics = metrics.New()

	ref, _ := ring.Begin(9)
	rec, _ := ring.Lookup(ref)
	rec.CommitLSN = 0x300 // "older" than current fsync_lsn

	require.NotPanics(t, func() { eng.Advance() })
	require.Equal(t, uint64(0x500), stream.FsyncLSN()) // monotonic max preserved
	require.Equal(t, float64(1), testutil.ToFloat64(eng.Metrics.OutOfOrderCommits))
}
