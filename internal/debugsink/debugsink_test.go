package debugsink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilSinkIsNoop(t *testing.T) {
	var s *Sink
	require.NotPanics(t, func() {
		s.Insert(1, []byte("k"), []byte("v"))
		s.Update(1, []byte("k"), []byte("old"), []byte("new"))
		s.Delete(1, []byte("k"), []byte("old"))
		require.NoError(t, s.Close())
	})
}

func TestWritesOneJSONLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	s, err := Open(path)
	require.NoError(t, err)

	s.Insert(7, []byte("k1"), []byte("v1"))
	s.Update(7, []byte("k1"), []byte("v1"), []byte("v2"))
	s.Delete(7, []byte("k1"), []byte("v2"))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 3)

	var first event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "insert", first.Kind)
	require.Equal(t, uint32(7), first.RelID)
	require.Equal(t, []byte("k1"), first.Key)
	require.Equal(t, []byte("v1"), first.New)
	require.Nil(t, first.Old)
}

func TestNonJSONBinaryValuesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	s, err := Open(path)
	require.NoError(t, err)

	// Avro-encoded binary, not valid JSON text: []byte's automatic base64
	// encoding must still round-trip it without a marshal error.
	binary := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0xff, 0x02}
	s.Insert(9, binary, binary)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var e event
	require.NoError(t, json.Unmarshal(data, &e))
	require.Equal(t, binary, e.Key)
	require.Equal(t, binary, e.New)
}
