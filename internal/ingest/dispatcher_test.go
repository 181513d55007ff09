package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/pg-kafka-bridge/internal/backpressure"
	"github.com/estuary/pg-kafka-bridge/internal/encode"
	"github.com/estuary/pg-kafka-bridge/internal/errorpolicy"
	"github.com/estuary/pg-kafka-bridge/internal/kafkadriver"
	"github.com/estuary/pg-kafka-bridge/internal/mapper"
	"github.com/estuary/pg-kafka-bridge/internal/registry"
	"github.com/estuary/pg-kafka-bridge/internal/replication"
	"github.com/estuary/pg-kafka-bridge/internal/txn"
)

const rowSchema = `{"type":"record","name":"widgets","namespace":"mydb","fields":[]}`

type testRig struct {
	dispatcher *Dispatcher
	ring       *txn.Ring
	stream     *replication.FakeStream
	driver     *kafkadriver.FakeDriver
	mapper     *mapper.Mapper
}

func newTestRig(t *testing.T, format mapper.Format, policy errorpolicy.Mode) *testRig {
	t.Helper()
	ring := txn.NewRing(4)
	stream := replication.NewFakeStream("slot1")

	rig := &testRig{ring: ring, stream: stream}

	driver := kafkadriver.NewFakeDriver(func(r kafkadriver.DeliveryReport) {
		rig.dispatcher.OnDelivery(r)
	})
	rig.driver = driver

	reg := registry.NewFakeClient()
	m := mapper.New(mapper.Config{
		Format:            format,
		ExpectedNamespace: "mydb",
		Driver:            driver,
		Registry:          reg,
	})
	rig.mapper = m

	var enc encode.Encoder
	if format == mapper.FormatAvro {
		enc = encode.Avro{}
	} else {
		enc = encode.JSON{}
	}

	rig.dispatcher = New(Config{
		Ring:       ring,
		Mapper:     m,
		Encoder:    enc,
		Driver:     driver,
		Stream:     stream,
		Policy:     errorpolicy.New(policy),
		Format:     format,
		ShouldStop: backpressure.ShouldStop(func() bool { return false }),
	})

	return rig
}

func TestScenarioSnapshotThenOneCommit(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnTableSchema(42, []byte(`"string"`), []byte(`{}`), nil, []byte(rowSchema)))
	require.NoError(t, d.OnInsertRow(42, nil, []byte("k1"), nil, []byte("v1")))
	require.NoError(t, d.OnCommitTxn(0x100, 0))

	require.Len(t, rig.driver.Produced, 1)
	require.Equal(t, []byte("k1"), rig.driver.Produced[0].Key)
	require.Equal(t, []byte("v1"), rig.driver.Produced[0].Value)

	rig.driver.Poll(0)

	require.Equal(t, uint64(0x100), rig.stream.FsyncLSN())
	require.False(t, rig.stream.TakingSnapshot())
	require.True(t, rig.ring.Empty())
}

func TestScenarioTwoInterleavedTransactions(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnTableSchema(42, nil, nil, nil, []byte(rowSchema)))
	require.NoError(t, d.OnCommitTxn(0x50, 0))
	rig.driver.Poll(0)

	require.NoError(t, d.OnBeginTxn(0, 1))
	require.NoError(t, d.OnInsertRow(42, nil, []byte("a"), nil, []byte("1")))
	require.NoError(t, d.OnCommitTxn(0x200, 1))

	require.NoError(t, d.OnBeginTxn(0, 2))
	require.NoError(t, d.OnInsertRow(42, nil, []byte("b"), nil, []byte("2")))
	require.NoError(t, d.OnCommitTxn(0x210, 2))

	require.Equal(t, uint64(0x50), rig.stream.FsyncLSN())

	// tx1's message acks first: the checkpoint advances only through tx1,
	// since tx2 is still outstanding.
	require.True(t, rig.driver.DeliverNext(nil))
	require.Equal(t, uint64(0x200), rig.stream.FsyncLSN())

	// tx2's message now acks too, and the checkpoint catches up to it.
	require.True(t, rig.driver.DeliverNext(nil))
	require.Equal(t, uint64(0x210), rig.stream.FsyncLSN())
}

func TestScenarioDeleteTombstone(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnTableSchema(7, nil, nil, nil, []byte(`{"type":"record","name":"rows","namespace":"mydb"}`)))
	require.NoError(t, d.OnInsertRow(7, nil, []byte("x"), nil, []byte("A")))
	require.NoError(t, d.OnDeleteRow(7, nil, []byte("x"), nil, []byte("A")))
	require.NoError(t, d.OnCommitTxn(0x300, 0))

	require.Len(t, rig.driver.Produced, 2)
	require.Equal(t, []byte("x"), rig.driver.Produced[0].Key)
	require.Equal(t, []byte("A"), rig.driver.Produced[0].Value)
	require.Equal(t, []byte("x"), rig.driver.Produced[1].Key)
	require.Nil(t, rig.driver.Produced[1].Value)
}

func TestScenarioUnkeyedDeleteIsDropped(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnTableSchema(9, nil, nil, nil, []byte(`{"type":"record","name":"rows","namespace":"mydb"}`)))

	head, _ := rig.ring.Head()
	before := head.ReceivedEvents

	require.NoError(t, d.OnDeleteRow(9, nil, nil, nil, []byte("row")))

	require.Empty(t, rig.driver.Produced)
	require.Equal(t, before, head.ReceivedEvents)
}

func TestScenarioLogModeDeliveryFailureDoesNotAbort(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Log)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnTableSchema(1, nil, nil, nil, []byte(rowSchema)))
	require.NoError(t, d.OnInsertRow(1, nil, []byte("k"), nil, []byte("v")))
	require.NoError(t, d.OnCommitTxn(0x400, 0))

	require.True(t, rig.driver.DeliverNext(assertErr))
	require.Nil(t, d.Err())
	require.Equal(t, uint64(0x400), rig.stream.FsyncLSN())
	require.True(t, rig.ring.Empty())
}

func TestScenarioExitModeDeliveryFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnTableSchema(1, nil, nil, nil, []byte(rowSchema)))
	require.NoError(t, d.OnInsertRow(1, nil, []byte("k"), nil, []byte("v")))
	require.NoError(t, d.OnCommitTxn(0x500, 0))

	require.True(t, rig.driver.DeliverNext(assertErr))
	require.Error(t, d.Err())

	// The failed message must not be treated as durable: fsync_lsn stays
	// behind the commit, and the transaction stays in the ring, exactly
	// the at-least-once guarantee the exit policy exists to protect.
	require.Equal(t, uint64(0), rig.stream.FsyncLSN())
	require.False(t, rig.ring.Empty())
}

func TestXidZeroArrivingLaterIsFatal(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnCommitTxn(0x10, 0))

	err := d.OnBeginTxn(0, 0)
	require.Error(t, err)
}

func TestUnknownRelidOnEnqueueIsFatal(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnBeginTxn(0, 0))
	err := d.OnInsertRow(999, nil, []byte("k"), nil, []byte("v"))
	require.Error(t, err)
}

func TestKeepaliveReportsSyncPendingWhileRingNonEmpty(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	require.NoError(t, d.OnKeepalive(0))

	require.NoError(t, d.OnBeginTxn(0, 0))
	err := d.OnKeepalive(0)
	require.ErrorIs(t, err, replication.ErrSyncPending)
}

var assertErr = errTestDelivery{}

type errTestDelivery struct{}

func (errTestDelivery) Error() string { return "simulated broker delivery failure" }

func TestReloadLatchObservedAndClearedOnBegin(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher

	var requested, cleared bool
	requested = true
	d.cfg.ReloadRequested = func() bool { return requested }
	d.cfg.ClearReload = func() { cleared = true; requested = false }

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.True(t, cleared)
	require.False(t, requested)
}

func TestDebugSinkIsOptionalAndDoesNotGateEnqueue(t *testing.T) {
	rig := newTestRig(t, mapper.FormatJSON, errorpolicy.Exit)
	d := rig.dispatcher
	require.Nil(t, d.cfg.Debug)

	require.NoError(t, d.OnBeginTxn(0, 0))
	require.NoError(t, d.OnTableSchema(42, nil, nil, nil, []byte(rowSchema)))
	require.NoError(t, d.OnInsertRow(42, nil, []byte("k1"), nil, []byte("v1")))

	require.Len(t, rig.driver.Produced, 1)
}
