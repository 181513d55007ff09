// Package ingest implements the dispatcher that turns frame-reader
// callbacks into transaction-tracker updates, mapper lookups, encoder
// calls, and Kafka enqueues — the hub the rest of the producer pipeline is
// wired through.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/estuary/pg-kafka-bridge/internal/backpressure"
	"github.com/estuary/pg-kafka-bridge/internal/checkpoint"
	"github.com/estuary/pg-kafka-bridge/internal/debugsink"
	"github.com/estuary/pg-kafka-bridge/internal/encode"
	"github.com/estuary/pg-kafka-bridge/internal/errorpolicy"
	"github.com/estuary/pg-kafka-bridge/internal/kafkadriver"
	"github.com/estuary/pg-kafka-bridge/internal/mapper"
	"github.com/estuary/pg-kafka-bridge/internal/metrics"
	"github.com/estuary/pg-kafka-bridge/internal/replication"
	"github.com/estuary/pg-kafka-bridge/internal/txn"
)

// envelope is the message envelope bound to an outbound Kafka message: a
// back-reference to the owning transaction record plus the relation id,
// for a delivery failure to log meaningfully. Created at enqueue, released
// (dropped, in Go's case — there is nothing to free explicitly) exactly
// once, when the delivery callback finishes with it. The data model also
// names the event's WAL position as part of the envelope; this frame
// reader abstraction surfaces that only at begin/commit granularity; row
// events are identified by transaction and relation alone.
type envelope struct {
	ref   txn.Ref
	relID uint32
}

// Config bundles the collaborators the dispatcher wires together.
type Config struct {
	Ring     *txn.Ring
	Mapper   *mapper.Mapper
	Encoder  encode.Encoder
	Driver   kafkadriver.Driver
	Stream   replication.Stream
	Policy   errorpolicy.Policy
	Format   mapper.Format
	ShouldStop backpressure.ShouldStop
	// Metrics is optional; a nil value disables instrumentation entirely
	// (tests construct dispatchers without one).
	Metrics *metrics.Registry
	// Debug is optional; a nil *debugsink.Sink is a no-op (see its doc).
	Debug *debugsink.Sink

	// ReloadRequested and ClearReload expose the lifecycle's SIGUSR2
	// latch. Both are optional; a nil ReloadRequested disables polling
	// for it entirely. Checked once per begin and once per backpressure
	// iteration, per the reload signal's documented observation points.
	ReloadRequested func() bool
	ClearReload      func()
}

// Dispatcher implements replication.FrameReader, routing every callback to
// the transaction ring, the table mapper, the configured encoder, and the
// Kafka driver. It also implements the delivery callback the driver
// invokes from the same goroutine. Not safe for concurrent use: the
// single-threaded event loop is what makes the counter arithmetic and
// checkpoint walk correct.
type Dispatcher struct {
	cfg        Config
	checkpoint *checkpoint.Engine
	curHeadRef txn.Ref
	anyTxnSeen bool
	fatal      error
}

func New(cfg Config) *Dispatcher {
	ckpt := checkpoint.New(cfg.Ring, cfg.Stream)
	ckpt.Metrics = cfg.Metrics
	return &Dispatcher{
		cfg:        cfg,
		checkpoint: ckpt,
	}
}

// OnDelivery is registered with the Kafka driver as its DeliveryCallback.
func (d *Dispatcher) OnDelivery(report kafkadriver.DeliveryReport) {
	env, ok := report.Envelope.(*envelope)
	if !ok {
		logrus.Error("ingest: delivery report with unrecognized envelope type")
		return
	}

	rec, ok := d.cfg.Ring.Lookup(env.ref)
	if !ok {
		logrus.Warn("ingest: delivery for a transaction ref the ring no longer holds, ignoring")
		return
	}

	if report.Err != nil {
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.MessagesFailed.WithLabelValues(report.Topic).Inc()
		}
		if fatal := d.cfg.Policy.Handle("kafka-delivery:"+report.Topic, report.Err); fatal {
			// A fatal delivery failure must not advance the checkpoint past
			// this transaction: the main loop hasn't observed Err() yet, and
			// letting fsync_lsn move first would tell PostgreSQL this
			// undelivered message is durable, breaking at-least-once
			// delivery in the very policy mode meant to preserve it.
			d.fatal = errorpolicy.Fatal("kafka delivery failed", report.Err)
			return
		}
	} else if d.cfg.Metrics != nil {
		d.cfg.Metrics.MessagesAcked.WithLabelValues(report.Topic).Inc()
	}

	rec.PendingEvents--
	d.checkpoint.Advance()
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.FsyncLSN.Set(float64(d.cfg.Stream.FsyncLSN()))
		d.cfg.Metrics.RingOccupancy.Set(float64(d.ringOccupancy()))
	}
}

// Err returns the first structurally fatal condition observed by the
// delivery callback (which has no caller to return an error to directly),
// or nil. The main loop must check this after every driver poll.
func (d *Dispatcher) Err() error { return d.fatal }

// checkReload observes the SIGUSR2 latch at one of its two documented
// observation points (once per begin, once per backpressure iteration),
// logging and clearing it. A reload carries no table-selection re-read in
// this core — that is out of scope — only the latch and observation point
// are implemented.
func (d *Dispatcher) checkReload() {
	if d.cfg.ReloadRequested == nil || !d.cfg.ReloadRequested() {
		return
	}
	logrus.Info("ingest: reload requested (SIGUSR2), observation point reached")
	if d.cfg.ClearReload != nil {
		d.cfg.ClearReload()
	}
}

func (d *Dispatcher) OnBeginTxn(walPos uint64, xid uint32) error {
	d.checkReload()
	if xid == 0 && d.anyTxnSeen {
		return errorpolicy.Fatal("xid=0 (snapshot) observed after the first transaction", nil)
	}
	if head, ok := d.cfg.Ring.Head(); ok && head.CommitLSN == 0 {
		return errorpolicy.Fatal("begin observed while the previous transaction is still open", nil)
	}

	var ref txn.Ref
	ready := func() bool {
		r, err := d.cfg.Ring.Begin(xid)
		if err != nil {
			d.countBackpressureIteration()
			return false
		}
		ref = r
		return true
	}
	if err := backpressure.Run(d.cfg.Driver, d.cfg.Stream, d.cfg.ShouldStop, ready); err != nil {
		return err
	}

	d.curHeadRef = ref
	d.anyTxnSeen = true
	return nil
}

func (d *Dispatcher) OnCommitTxn(walPos uint64, xid uint32) error {
	head, ok := d.cfg.Ring.Head()
	if !ok || head.Xid != xid {
		return errorpolicy.Fatal("commit for a transaction that was never begun", fmt.Errorf("xid=%d", xid))
	}
	head.CommitLSN = walPos
	d.checkpoint.Advance()
	return nil
}

// avroSchemaHeader is the subset of an Avro record schema this dispatcher
// needs in order to derive a topic name: its name and namespace.
type avroSchemaHeader struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

func (d *Dispatcher) OnTableSchema(relID uint32, keySchemaJSON, rowSchemaJSON, _, avroRowSchema []byte) error {
	var hdr avroSchemaHeader
	if len(avroRowSchema) > 0 {
		if err := json.Unmarshal(avroRowSchema, &hdr); err != nil {
			logrus.WithError(err).WithField("relid", relID).Error("ingest: parsing avro row schema, table metadata not updated")
			return nil
		}
	}

	// A mapper failure here is reported to the log but never terminates
	// the process: this callback has no safe way to unwind the
	// frame-reader's state. If the relation had no metadata yet, the next
	// enqueue against it fails as an unknown-relid; if it already had
	// metadata, that earlier metadata stays in place and later rows are
	// produced with it.
	if _, err := d.cfg.Mapper.Update(relID, hdr.Namespace, hdr.Name, string(keySchemaJSON), string(rowSchemaJSON)); err != nil {
		logrus.WithError(err).WithField("relid", relID).Error("ingest: table mapper update failed")
	}
	return nil
}

func (d *Dispatcher) OnInsertRow(relID uint32, keyBin, keyVal, newBin, newVal []byte) error {
	key, value := d.pickBytes(keyBin, keyVal, newBin, newVal)
	d.cfg.Debug.Insert(relID, key, value)
	return d.sendKafkaMsg(relID, key, value)
}

func (d *Dispatcher) OnUpdateRow(relID uint32, keyBin, keyVal, oldBin, oldVal, newBin, newVal []byte) error {
	key, value := d.pickBytes(keyBin, keyVal, newBin, newVal)
	_, old := d.pickBytes(keyBin, keyVal, oldBin, oldVal)
	d.cfg.Debug.Update(relID, key, old, value)
	return d.sendKafkaMsg(relID, key, value)
}

func (d *Dispatcher) OnDeleteRow(relID uint32, keyBin, keyVal, oldBin, oldVal []byte) error {
	key, _ := d.pickBytes(keyBin, keyVal, nil, nil)
	_, old := d.pickBytes(keyBin, keyVal, oldBin, oldVal)
	d.cfg.Debug.Delete(relID, key, old)
	if key == nil {
		// Delete with no key on an unkeyed table: no enqueue, no counter
		// change (a tombstone with a null key would be meaningless and
		// would also scatter across random partitions).
		return nil
	}
	return d.sendKafkaMsg(relID, key, nil)
}

func (d *Dispatcher) OnKeepalive(uint64) error {
	if d.cfg.Ring.Empty() {
		return nil
	}
	return replication.ErrSyncPending
}

func (d *Dispatcher) OnError(code int, message string) error {
	err := fmt.Errorf("frame reader reported error %d: %s", code, message)
	if d.cfg.Policy.Handle("frame-reader", err) {
		return err
	}
	return nil
}

// pickBytes selects the raw key/value pair the configured encoder expects:
// already-Avro-encoded bytes in Avro mode, raw JSON text otherwise.
func (d *Dispatcher) pickBytes(keyBin, keyVal, dataBin, dataVal []byte) ([]byte, []byte) {
	if d.cfg.Format == mapper.FormatAvro {
		return keyBin, dataBin
	}
	return keyVal, dataVal
}

// sendKafkaMsg implements the enqueue path (spec §4.2): count the event
// against the open transaction, resolve table metadata, encode, and
// enqueue to the Kafka driver, retrying through backpressure on a full
// local queue.
func (d *Dispatcher) sendKafkaMsg(relID uint32, rawKey, rawValue []byte) error {
	head, ok := d.cfg.Ring.Head()
	if !ok {
		return errorpolicy.Fatal("row event with no open transaction", fmt.Errorf("relid=%d", relID))
	}

	head.ReceivedEvents++
	head.PendingEvents++
	env := &envelope{ref: d.curHeadRef, relID: relID}

	md, ok := d.cfg.Mapper.Lookup(relID)
	if !ok {
		head.PendingEvents--
		head.ReceivedEvents--
		return errorpolicy.Fatal("unknown-relid", fmt.Errorf("relation %d has no registered schema", relID))
	}

	encKey, encValue, err := d.cfg.Encoder.Encode(md, rawKey, rawValue)
	if err != nil {
		head.PendingEvents--
		head.ReceivedEvents--
		logrus.WithError(err).WithField("relid", relID).Error("ingest: encoding failed")
		return err
	}

	var produceErr error
	ready := func() bool {
		produceErr = d.cfg.Driver.Produce(md.Topic, encKey, encValue, env)
		if errors.Is(produceErr, kafkadriver.ErrQueueFull) {
			d.countBackpressureIteration()
			return false
		}
		return true
	}
	if err := backpressure.Run(d.cfg.Driver, d.cfg.Stream, d.cfg.ShouldStop, ready); err != nil {
		head.PendingEvents--
		head.ReceivedEvents--
		return err
	}
	if produceErr != nil {
		head.PendingEvents--
		head.ReceivedEvents--
		return produceErr
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.MessagesProduced.WithLabelValues(md.TopicName).Inc()
		d.cfg.Metrics.RingOccupancy.Set(float64(d.ringOccupancy()))
	}

	return nil
}

func (d *Dispatcher) countBackpressureIteration() {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.BackpressureIterations.Inc()
	}
	d.checkReload()
}

// ringOccupancy counts in-flight transactions currently tracked, for the
// ring-occupancy gauge.
func (d *Dispatcher) ringOccupancy() int {
	var n int
	d.cfg.Ring.Walk(func(*txn.Record) { n++ })
	return n
}

var _ replication.FrameReader = (*Dispatcher)(nil)
