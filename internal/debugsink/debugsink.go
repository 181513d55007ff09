// Package debugsink implements the optional row-event trace file, a
// feature present in the original bottledwater-pg source and dropped from
// the distilled specification's scope but reintroduced here: it records
// every row event, including old values on updates that the core
// otherwise discards, for local debugging. It never gates or slows the
// hot path; every error from it is logged and swallowed, never returned.
package debugsink

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink records row events. A nil *Sink is valid and a no-op, so callers
// needn't branch on whether debug tracing is enabled.
type Sink struct {
	mu  sync.Mutex
	enc *json.Encoder
	f   *os.File
}

// Open creates (or truncates) path and returns a Sink writing to it.
func Open(path string) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Sink{enc: json.NewEncoder(f), f: f}, nil
}

// Close flushes and closes the underlying file. Safe on a nil Sink.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.f.Close()
}

// event fields are plain []byte, not json.RawMessage: in Avro output mode
// key/old/new carry binary-encoded Avro, not JSON text, so encoding/json's
// automatic base64 string encoding for []byte is the only representation
// that survives both output formats without failing to marshal.
type event struct {
	Kind  string `json:"kind"`
	RelID uint32 `json:"relid"`
	Key   []byte `json:"key,omitempty"`
	Old   []byte `json:"old,omitempty"`
	New   []byte `json:"new,omitempty"`
}

func (s *Sink) write(e event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil {
		logrus.WithError(err).Warn("debugsink: failed to write trace event")
	}
}

// Insert records an insert event. key/new may be nil.
func (s *Sink) Insert(relID uint32, key, newVal []byte) {
	s.write(event{Kind: "insert", RelID: relID, Key: key, New: newVal})
}

// Update records an update event, including the old value the core itself
// never keeps once the new row has been enqueued.
func (s *Sink) Update(relID uint32, key, oldVal, newVal []byte) {
	s.write(event{Kind: "update", RelID: relID, Key: key, Old: oldVal, New: newVal})
}

// Delete records a delete event.
func (s *Sink) Delete(relID uint32, key, oldVal []byte) {
	s.write(event{Kind: "delete", RelID: relID, Key: key, Old: oldVal})
}
