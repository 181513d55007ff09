package kafkadriver

import (
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// confluentTopic wraps the topic name confluent-kafka-go addresses
// messages by; librdkafka resolves and caches the C topic_t internally, so
// the handle here only needs to remember the name.
type confluentTopic struct{ name string }

func (t confluentTopic) Name() string { return t.name }

// confluentDriver adapts *ck.Producer (a librdkafka binding) to Driver.
// Partitioning is delegated to librdkafka's own "consistent_random"
// partitioner, set at construction: identical non-null keys always land
// on the same partition, and a null key is distributed randomly, which is
// exactly the contract table mapper callers require for compaction
// correctness. No custom partitioner type is needed.
type confluentDriver struct {
	producer *ck.Producer
	onDR     DeliveryCallback
}

// NewConfluentDriver creates a librdkafka-backed producer connected to
// brokers, applying extraConfig as additional client properties (the
// core's -C/--kafka-config flags).
func NewConfluentDriver(brokers string, extraConfig map[string]string, onDR DeliveryCallback) (Driver, error) {
	cfg := &ck.ConfigMap{
		"bootstrap.servers": brokers,
		"partitioner":       "consistent_random",
	}
	for k, v := range extraConfig {
		if err := cfg.SetKey(k, v); err != nil {
			return nil, fmt.Errorf("kafka config %s=%s: %w", k, v, err)
		}
	}

	p, err := ck.NewProducer(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return &confluentDriver{producer: p, onDR: onDR}, nil
}

func (d *confluentDriver) Topic(name string, _ map[string]string) (Topic, error) {
	// librdkafka topic objects are created lazily on first Produce; topic-
	// level config (e.g. retention) belongs to the broker/topic admin
	// path, which is out of scope for the producer client. We only need
	// a stable handle to address Produce calls with.
	return confluentTopic{name: name}, nil
}

func (d *confluentDriver) Produce(topic Topic, key, value []byte, envelope interface{}) error {
	name := topic.Name()
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &name, Partition: ck.PartitionAny},
		Key:            key,
		Value:          value,
		Opaque:         envelope,
	}
	if err := d.producer.Produce(msg, nil); err != nil {
		if err.(ck.Error).Code() == ck.ErrQueueFull {
			return ErrQueueFull
		}
		return err
	}
	return nil
}

// Poll drains the producer's event channel for up to timeoutMillis,
// invoking onDR for each delivery report. Unlike the Consumer, the
// confluent-kafka-go Producer has no blocking Poll of its own when driven
// via the Events() channel, so this reimplements the rd_kafka_poll
// contract directly: block on the channel with a deadline, never spawn a
// goroutine, and return once the deadline passes or the channel closes.
// This keeps delivery-callback handling on the caller's goroutine, which
// is what makes it safe to mutate ring/mapper state from onDR.
func (d *confluentDriver) Poll(timeoutMillis int) int {
	deadline := time.NewTimer(time.Duration(timeoutMillis) * time.Millisecond)
	defer deadline.Stop()

	var served int
	for {
		select {
		case ev, ok := <-d.producer.Events():
			if !ok {
				return served
			}
			if m, ok := ev.(*ck.Message); ok {
				d.deliver(m)
				served++
			}
		case <-deadline.C:
			return served
		}
	}
}

func (d *confluentDriver) deliver(m *ck.Message) {
	var reportErr error
	if m.TopicPartition.Error != nil {
		reportErr = m.TopicPartition.Error
	}
	topicName := ""
	if m.TopicPartition.Topic != nil {
		topicName = *m.TopicPartition.Topic
	}
	d.onDR(DeliveryReport{Envelope: m.Opaque, Topic: topicName, Err: reportErr})
}

func (d *confluentDriver) Flush(timeoutMillis int) int {
	return d.producer.Flush(timeoutMillis)
}

func (d *confluentDriver) Close() {
	d.producer.Close()
}

var _ Driver = (*confluentDriver)(nil)
