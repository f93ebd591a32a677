package lowka

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendRecordFramingAndCRC(t *testing.T) {
	t.Parallel()

	buf := newMessageSetBuffer(256)
	key := []byte("k")
	value := []byte("hello")

	buf.appendRecord(key, value)

	require.Equal(t, 1, buf.count)
	require.Equal(t, recordSize(len(key), len(value)), buf.cursor)

	dec := newRealDecoder(buf.bytes())

	offset, err := dec.getInt64()
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)

	size, err := dec.getInt32()
	require.NoError(t, err)
	require.Equal(t, int32(buf.cursor-12), size, "size excludes the 8-byte offset and its own 4 bytes")

	crcStart := 16 // offset(8) + size(4) + crc(4)
	wantCRC := crc32.ChecksumIEEE(buf.bytes()[crcStart:])

	crc, err := dec.getInt32()
	require.NoError(t, err)
	require.Equal(t, int32(wantCRC), crc)

	magicAndAttrs, err := dec.getInt16()
	require.NoError(t, err)
	require.Equal(t, int16(0), magicAndAttrs, "magic byte and NO_COMPRESSION attrs must both be 0")

	gotKey, err := dec.getBytes()
	require.NoError(t, err)
	require.Equal(t, key, gotKey)

	gotValue, err := dec.getBytes()
	require.NoError(t, err)
	require.Equal(t, value, gotValue)
}

func TestAppendRecordAdvancesCursorExactlyByRecordSize(t *testing.T) {
	t.Parallel()

	buf := newMessageSetBuffer(1024)
	buf.appendRecord([]byte("key"), []byte("value"))
	buf.appendRecord([]byte("key2"), []byte("value2"))

	require.Equal(t, 2, buf.count)
	require.Equal(t, recordSize(3, 5)+recordSize(4, 6), buf.cursor)
}

func TestMessageSetBufferResetClearsState(t *testing.T) {
	t.Parallel()

	buf := newMessageSetBuffer(64)
	buf.appendRecord([]byte("k"), []byte("v"))
	require.False(t, buf.empty())

	buf.reset()
	require.True(t, buf.empty())
	require.Equal(t, 0, buf.cursor)
	require.Equal(t, 64, buf.remaining())
}

func TestRecordExactlyFillingCapacityFitsWithoutRotation(t *testing.T) {
	t.Parallel()

	key, value := []byte("k"), []byte("v")
	size := recordSize(len(key), len(value))

	buf := newMessageSetBuffer(size)
	require.Equal(t, size, buf.remaining())
	require.NotPanics(t, func() { buf.appendRecord(key, value) })
	require.Equal(t, 0, buf.remaining())
}
