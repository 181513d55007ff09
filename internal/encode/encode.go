// Package encode implements the two wire-format variants the ingest
// dispatcher can produce a message with: Confluent-framed Avro, and raw
// JSON passthrough. Both satisfy the same Encoder contract so the
// dispatcher never branches on format itself.
package encode

import (
	"encoding/binary"

	"github.com/estuary/pg-kafka-bridge/internal/mapper"
)

// magicByte is the Confluent wire-format marker preceding the schema id.
const magicByte = 0x00

// Encoder turns the raw key/value bytes a frame reader hands the
// dispatcher into the bytes actually produced to Kafka, given the table
// metadata the mapper resolved for the event's relation. A nil key or
// value is preserved as nil (null field / tombstone), never substituted.
type Encoder interface {
	Encode(md *mapper.Metadata, key, value []byte) (encodedKey, encodedValue []byte, err error)
}

// Avro prepends the 5-byte Confluent schema-id header to each of key and
// value; it does not itself serialize rows; the frame reader has already
// produced Avro-encoded bytes, and this encoder only frames them for wire
// transport, exactly as md's registered schema ids dictate.
type Avro struct{}

func (Avro) Encode(md *mapper.Metadata, key, value []byte) ([]byte, []byte, error) {
	return frame(md.KeySchemaID, key), frame(md.RowSchemaID, value), nil
}

func frame(schemaID int, payload []byte) []byte {
	if payload == nil {
		return nil
	}
	out := make([]byte, 5+len(payload))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:5], uint32(schemaID))
	copy(out[5:], payload)
	return out
}

// JSON passes the frame reader's bytes straight through, unframed; it
// needs no schema registry and ignores md entirely.
type JSON struct{}

func (JSON) Encode(_ *mapper.Metadata, key, value []byte) ([]byte, []byte, error) {
	return copyOrNil(key), copyOrNil(value), nil
}

func copyOrNil(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ Encoder = Avro{}
	_ Encoder = JSON{}
)
