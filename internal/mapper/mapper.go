// Package mapper owns the PostgreSQL relation id to Kafka topic/schema
// binding: the table-to-topic/schema mapper described as the third leg of
// the producer pipeline, alongside the transaction tracker and the
// delivery-acknowledgement path.
package mapper

import (
	"fmt"

	"github.com/estuary/pg-kafka-bridge/internal/kafkadriver"
	"github.com/estuary/pg-kafka-bridge/internal/registry"
	"github.com/sirupsen/logrus"
)

// Format selects whether the mapper registers Avro schemas or skips the
// registry entirely (JSON passthrough mode).
type Format int

const (
	FormatAvro Format = iota
	FormatJSON
)

// Metadata is everything owned by the mapper for one relation: the
// derived topic name, the driver's opaque topic handle, and — for Avro —
// the schema ids the registry assigned the key and row schemas. Lifecycle:
// created on the first table_schema callback for a relation, updated on
// later ones (schema evolution), destroyed on shutdown.
type Metadata struct {
	TopicName     string
	Topic         kafkadriver.Topic
	KeySchemaID   int
	RowSchemaID   int
}

// Config bundles everything the mapper needs to derive topic names and
// reach its two external collaborators.
type Config struct {
	Format            Format
	TopicPrefix       string
	ExpectedNamespace string
	TopicConfig       map[string]string
	Driver            kafkadriver.Driver
	Registry          registry.Client
}

// Mapper maps relation ids to Metadata. It is not safe for concurrent use;
// the ingest dispatcher owns it from the single event-loop goroutine.
type Mapper struct {
	cfg   Config
	byRel map[uint32]*Metadata
}

func New(cfg Config) *Mapper {
	return &Mapper{cfg: cfg, byRel: make(map[uint32]*Metadata)}
}

// Lookup returns the metadata previously stored for relid, if any.
func (m *Mapper) Lookup(relid uint32) (*Metadata, bool) {
	md, ok := m.byRel[relid]
	return md, ok
}

// Update creates or refreshes the metadata for relid from a freshly
// received table_schema callback. On first call for a relation it creates
// a topic handle and, in Avro mode, registers both schemas. On later calls
// (the table's schema evolved) it re-registers the schemas and refreshes
// the recorded ids; the topic handle and name are not recomputed, since the
// topic name is derived from the Avro namespace/name, not from the schema
// body, and the mapper has no signal that those changed.
func (m *Mapper) Update(relid uint32, avroNamespace, avroName, keySchemaJSON, rowSchemaJSON string) (*Metadata, error) {
	existing, known := m.byRel[relid]

	var md Metadata
	if known {
		md = *existing
	} else {
		md.TopicName = DeriveTopicName(avroNamespace, avroName, m.cfg.TopicPrefix, m.cfg.ExpectedNamespace)
		topic, err := m.cfg.Driver.Topic(md.TopicName, m.cfg.TopicConfig)
		if err != nil {
			return nil, fmt.Errorf("mapper: creating topic %q for relation %d: %w", md.TopicName, relid, err)
		}
		md.Topic = topic
	}

	if m.cfg.Format == FormatAvro {
		subject := md.TopicName
		keyID, err := m.cfg.Registry.Register(subject+"-key", keySchemaJSON)
		if err != nil {
			return nil, fmt.Errorf("mapper: registering key schema for relation %d: %w", relid, err)
		}
		rowID, err := m.cfg.Registry.Register(subject+"-value", rowSchemaJSON)
		if err != nil {
			return nil, fmt.Errorf("mapper: registering row schema for relation %d: %w", relid, err)
		}
		md.KeySchemaID = keyID
		md.RowSchemaID = rowID
	}

	m.byRel[relid] = &md

	logrus.WithFields(logrus.Fields{
		"relid": relid,
		"topic": md.TopicName,
	}).Debug("mapper: table metadata updated")

	return &md, nil
}

// Close releases every topic handle the mapper has created. Topic is an
// opaque handle owned by the driver; the driver itself (not the mapper)
// owns the underlying client connection, so Close here only drops the
// mapper's references.
func (m *Mapper) Close() {
	m.byRel = make(map[uint32]*Metadata)
}
