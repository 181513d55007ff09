// Package kafkadriver declares the narrow surface this bridge needs from a
// Kafka producer client, and adapts github.com/confluentinc/confluent-kafka-go
// (a librdkafka binding) to it. The real client library is treated as an
// external collaborator per the specification; this package is the thin
// seam between it and the core.
package kafkadriver

import "errors"

// ErrQueueFull is returned by Produce when the driver's local queue is at
// capacity. It is not a failure: callers must run the backpressure loop and
// retry, exactly as for a full transaction ring.
var ErrQueueFull = errors.New("kafka driver: local queue is full")

// Topic is an opaque handle to a previously created/looked-up topic,
// returned by Driver.Topic and passed back into Produce.
type Topic interface {
	Name() string
}

// DeliveryReport is what the driver hands back for every produced message,
// successful or not, exactly once.
type DeliveryReport struct {
	// Envelope is the opaque value passed to Produce; the delivery
	// callback type-asserts it back to its own envelope type.
	Envelope interface{}
	Topic    string
	Err      error
}

// Driver is the subset of a Kafka producer client the core depends on. The
// confluent-kafka-go adapter (confluentDriver) and the in-memory fake
// (FakeDriver, used by tests) both satisfy it.
type Driver interface {
	// Topic returns a handle for name. cfg carries topic-level properties;
	// neither implementation in this package applies them.
	Topic(name string, cfg map[string]string) (Topic, error)

	// Produce enqueues key/value for delivery to topic, partitioned by
	// key. envelope is returned verbatim on the eventual DeliveryReport.
	// A nil key is produced as a null key (random partition); a nil value
	// is produced as a tombstone.
	Produce(topic Topic, key, value []byte, envelope interface{}) error

	// Poll blocks up to timeoutMillis serving queued delivery reports to
	// the registered callback, returning how many were served.
	Poll(timeoutMillis int) int

	// Flush blocks up to timeoutMillis draining the outbound queue,
	// returning the number of messages still outstanding.
	Flush(timeoutMillis int) int

	// Close releases the driver. Callers must Flush first if they want a
	// graceful drain.
	Close()
}

// DeliveryCallback is invoked, on the same goroutine that called Poll or
// Flush, once per produced message.
type DeliveryCallback func(DeliveryReport)
