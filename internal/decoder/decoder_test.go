package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktail/source/kafka"
)

func TestSelect(t *testing.T) {
	rec := kafka.Record{Key: []byte("K"), Value: []byte("VVV")}

	tests := []struct {
		name string
		kind Kind
		rec  kafka.Record
		want []byte
	}{
		{name: "key", kind: RawKey, rec: rec, want: []byte("K")},
		{name: "key ignores value", kind: RawKey, rec: kafka.Record{Key: []byte("K"), Value: []byte("other")}, want: []byte("K")},
		{name: "value", kind: RawValue, rec: rec, want: []byte("VVV")},
		{name: "value ignores key", kind: RawValue, rec: kafka.Record{Key: []byte("x"), Value: []byte("VVV")}, want: []byte("VVV")},
		{name: "nil key", kind: RawKey, rec: kafka.Record{Value: []byte("V")}, want: []byte{}},
		{name: "nil value", kind: RawValue, rec: kafka.Record{Key: []byte("K")}, want: []byte{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Select(tc.kind)
			require.NoError(t, err)
			got := f(tc.rec)
			assert.NotNil(t, got)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSelect_Unknown(t *testing.T) {
	_, err := Select(Kind("Avro"))
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("rawkey")
	require.NoError(t, err)
	assert.Equal(t, RawKey, k)

	var v Kind
	require.NoError(t, v.UnmarshalText([]byte("RawValue")))
	assert.Equal(t, RawValue, v)

	assert.Error(t, v.UnmarshalText([]byte("json")))
}
