package encode

import (
	"testing"

	"github.com/estuary/pg-kafka-bridge/internal/mapper"
	"github.com/stretchr/testify/require"
)

func TestAvroEncodePrependsSchemaHeader(t *testing.T) {
	md := &mapper.Metadata{KeySchemaID: 7, RowSchemaID: 300}

	key, value, err := Avro{}.Encode(md, []byte("k1"), []byte("v1"))
	require.NoError(t, err)

	require.Equal(t, byte(0x00), key[0])
	require.Equal(t, []byte{0, 0, 0, 7}, key[1:5])
	require.Equal(t, []byte("k1"), key[5:])

	require.Equal(t, byte(0x00), value[0])
	require.Equal(t, []byte{0, 0, 1, 44}, value[1:5])
	require.Equal(t, []byte("v1"), value[5:])
}

func TestAvroEncodePreservesNullValueAsTombstone(t *testing.T) {
	md := &mapper.Metadata{KeySchemaID: 1, RowSchemaID: 2}

	key, value, err := Avro{}.Encode(md, []byte("k1"), nil)
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Nil(t, value)
}

func TestAvroEncodePreservesNullKey(t *testing.T) {
	md := &mapper.Metadata{KeySchemaID: 1, RowSchemaID: 2}

	key, value, err := Avro{}.Encode(md, nil, []byte("v1"))
	require.NoError(t, err)
	require.Nil(t, key)
	require.NotNil(t, value)
}

func TestJSONEncodePassesBytesThrough(t *testing.T) {
	key, value, err := JSON{}.Encode(nil, []byte(`{"id":1}`), []byte(`{"id":1,"n":"a"}`))
	require.NoError(t, err)
	require.Equal(t, []byte(`{"id":1}`), key)
	require.Equal(t, []byte(`{"id":1,"n":"a"}`), value)
}

func TestJSONEncodePreservesNulls(t *testing.T) {
	key, value, err := JSON{}.Encode(nil, []byte(`{"id":1}`), nil)
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Nil(t, value)
}
