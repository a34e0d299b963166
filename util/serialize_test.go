package util

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactSize(t *testing.T) {
	tests := []struct {
		name    string
		value   uint64
		encoded []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"largest single byte", 252, []byte{0xfc}},
		{"smallest uint16", 253, []byte{0xfd, 0xfd, 0x00}},
		{"largest uint16", math.MaxUint16, []byte{0xfd, 0xff, 0xff}},
		{"smallest uint32", 0x10000, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
		{"largest uint32", math.MaxUint32, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}},
		{"smallest uint64", 0x100000000, []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.encoded, AppendCompactSize(nil, tt.value))
			assert.Equal(t, len(tt.encoded), CompactSizeLen(tt.value))

			var buf bytes.Buffer
			require.NoError(t, WriteCompactSize(&buf, tt.value))
			assert.Equal(t, tt.encoded, buf.Bytes())

			decoded, err := ReadCompactSizeUnbounded(bytes.NewReader(tt.encoded))
			require.NoError(t, err)
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestCompactSizeNonCanonical(t *testing.T) {
	tests := []struct {
		name    string
		encoded []byte
	}{
		{"1 in three bytes", []byte{0xfd, 0x01, 0x00}},
		{"252 in three bytes", []byte{0xfd, 0xfc, 0x00}},
		{"uint16 in five bytes", []byte{0xfe, 0xff, 0xff, 0x00, 0x00}},
		{"uint32 in nine bytes", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCompactSize(bytes.NewReader(tt.encoded))
			require.Error(t, err)
		})
	}
}

func TestCompactSizeTooLarge(t *testing.T) {
	_, err := ReadCompactSize(bytes.NewReader(AppendCompactSize(nil, MaxCompactSize+1)))
	require.Error(t, err)

	n, err := ReadCompactSize(bytes.NewReader(AppendCompactSize(nil, MaxCompactSize)))
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxCompactSize), n)
}

func TestCompactSizeTruncated(t *testing.T) {
	_, err := ReadCompactSize(bytes.NewReader([]byte{0xfe, 0x00}))
	require.Error(t, err)
}

func TestVarInt(t *testing.T) {
	tests := []struct {
		value   uint64
		encoded []byte
	}{
		{0, []byte{0x00}},
		{0x7f, []byte{0x7f}},
		{0x80, []byte{0x80, 0x00}},
		{0x1234, []byte{0xa3, 0x34}},
		{0xffff, []byte{0x82, 0xfe, 0x7f}},
		{0x123456, []byte{0xc7, 0xe7, 0x56}},
		{0x80123456, []byte{0x86, 0xff, 0xc7, 0xe7, 0x56}},
		{0xffffffff, []byte{0x8e, 0xfe, 0xfe, 0xfe, 0x7f}},
		{math.MaxUint64, []byte{0x80, 0xfe, 0xfe, 0xfe, 0xfe, 0xfe, 0xfe, 0xfe, 0xfe, 0x7f}},
	}

	for _, tt := range tests {
		encoded := AppendVarInt(nil, tt.value)
		assert.Equal(t, tt.encoded, encoded, "value %d", tt.value)

		decoded, err := ReadVarInt(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, tt.value, decoded)
	}
}

func TestVarIntOverflow(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0x80, 0xfe, 0xfe, 0xfe, 0xfe, 0xfe, 0xfe, 0xfe, 0xff, 0x00}))
	require.Error(t, err)

	_, err = ReadVarInt(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}))
	require.Error(t, err)
}

func TestVarBytes(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 300)

	var buf bytes.Buffer
	require.NoError(t, WriteVarBytes(&buf, data))
	assert.Equal(t, AppendVarBytes(nil, data), buf.Bytes())

	decoded, err := ReadVarBytes(bytes.NewReader(buf.Bytes()), 1000, "data")
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	_, err = ReadVarBytes(bytes.NewReader(buf.Bytes()), 299, "data")
	require.Error(t, err)
}
