// Package backpressure implements the loop the ingest dispatcher enters
// whenever the transaction ring or the Kafka driver's local queue is full:
// it keeps polling the broker and keeping the replication connection alive
// until whatever condition blocked forward progress clears.
package backpressure

import (
	"github.com/estuary/pg-kafka-bridge/internal/errorpolicy"
	"github.com/estuary/pg-kafka-bridge/internal/kafkadriver"
	"github.com/sirupsen/logrus"
)

// pollTimeoutMillis is the cap on each Kafka driver poll iteration: long
// enough to make real progress, short enough that a keepalive is never
// starved for more than this long.
const pollTimeoutMillis = 200

// Keepalive is the narrow replication-stream surface the loop needs: send
// a keepalive so the upstream doesn't time out the connection while we're
// blocked on broker backpressure.
type Keepalive interface {
	SendKeepalive() error
}

// ShouldStop is polled once per iteration; it should report the latched
// SIGINT/SIGTERM shutdown flag.
type ShouldStop func() bool

// Run blocks, alternating kafka driver polls with replication keepalives,
// until ready reports the blocking condition has cleared or stop reports
// a shutdown was requested. Returns a structurally fatal error if the
// keepalive send fails — per the error policy, this is always fatal
// regardless of configured Mode, since a stalled replication connection
// gives the upstream no sync point to retry from.
func Run(driver kafkadriver.Driver, stream Keepalive, stop ShouldStop, ready func() bool) error {
	for !ready() {
		if stop() {
			return nil
		}

		driver.Poll(pollTimeoutMillis)

		if err := stream.SendKeepalive(); err != nil {
			return errorpolicy.Fatal("replication keepalive failed during backpressure", err)
		}
	}

	logrus.Debug("backpressure: condition cleared, resuming ingest")
	return nil
}
