// Package checkpoint implements the durable-checkpoint algorithm: advancing
// the replication stream's fsync-LSN in commit order, but only past
// transactions every one of whose Kafka messages has been acknowledged.
package checkpoint

import (
	log "github.com/sirupsen/logrus"

	"github.com/estuary/pg-kafka-bridge/internal/metrics"
	"github.com/estuary/pg-kafka-bridge/internal/replication"
	"github.com/estuary/pg-kafka-bridge/internal/txn"
)

// Engine walks the in-flight ring from its tail, advancing the stream's
// fsync-LSN through every transaction that has both committed (or is the
// snapshot) and had every one of its produced messages acknowledged.
//
// It must be invoked after every commit and after every delivery
// acknowledgement, since either event can be what makes the tail closed.
type Engine struct {
	ring   *txn.Ring
	stream replication.Stream

	// Metrics is optional; set it directly after New to count
	// out-of-order commit warnings.
	Metrics *metrics.Registry
}

// New returns a checkpoint Engine bound to the given ring and stream.
func New(ring *txn.Ring, stream replication.Stream) *Engine {
	return &Engine{ring: ring, stream: stream}
}

// Advance walks the ring tail-forward while the tail record is closed,
// advancing the stream's fsync-LSN and the ring's tail for each.
func (e *Engine) Advance() {
	for {
		rec, ok := e.ring.Tail()
		if !ok || !rec.Closed() {
			return
		}

		if current := e.stream.FsyncLSN(); rec.CommitLSN > 0 && current > rec.CommitLSN {
			log.WithFields(log.Fields{
				"current_fsync_lsn": current,
				"commit_lsn":        rec.CommitLSN,
				"xid":               rec.Xid,
			}).Warn("commits-out-of-order")
			if e.Metrics != nil {
				e.Metrics.OutOfOrderCommits.Inc()
			}
		}

		if rec.CommitLSN > 0 {
			e.stream.SetFsyncLSN(rec.CommitLSN)
		}
		if rec.Xid == 0 && rec.CommitLSN > 0 {
			e.stream.ClearTakingSnapshot()
		}

		e.ring.AdvanceTail()
	}
}
