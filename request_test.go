package lowka

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func decodeProduceRequestMessageSet(t *testing.T, req []byte) (msgSet []byte, correlationID int32) {
	t.Helper()

	dec := newRealDecoder(req)
	_, err := dec.getInt32() // total_size
	require.NoError(t, err)

	_, err = dec.getInt16() // api key
	require.NoError(t, err)
	_, err = dec.getInt16() // api version
	require.NoError(t, err)
	correlationID, err = dec.getInt32()
	require.NoError(t, err)
	_, err = dec.getString() // client id
	require.NoError(t, err)

	_, err = dec.getInt16() // acks
	require.NoError(t, err)
	_, err = dec.getInt32() // timeout ms
	require.NoError(t, err)

	_, err = dec.getInt32() // topic count
	require.NoError(t, err)
	_, err = dec.getString() // topic
	require.NoError(t, err)
	_, err = dec.getInt32() // partition count
	require.NoError(t, err)
	_, err = dec.getInt32() // partition
	require.NoError(t, err)

	messageSetSize, err := dec.getInt32()
	require.NoError(t, err)
	msgSet, err = dec.getRawBytes(int(messageSetSize))
	require.NoError(t, err)
	return msgSet, correlationID
}

func TestBuildProduceRequestUncompressedRoundTrips(t *testing.T) {
	t.Parallel()

	payload := []byte("uncompressed message set bytes")
	enc := newRealEncoder(make([]byte, 256))
	require.NoError(t, buildProduceRequest(enc, "client", 42, 1, 1000, "orders", 0, payload, noneCompressor{}, nil))

	msgSet, correlationID := decodeProduceRequestMessageSet(t, enc.raw())
	require.Equal(t, int32(42), correlationID)
	require.Equal(t, payload, msgSet)
}

func TestBuildProduceRequestGZIPCRCCoversCompressedRecord(t *testing.T) {
	t.Parallel()

	payload := []byte("the message set that gets wrapped in a single compressed record")
	scratch := make([]byte, 4096)
	enc := newRealEncoder(make([]byte, 4096))
	require.NoError(t, buildProduceRequest(enc, "client", 7, 1, 1000, "orders", 0, payload, gzipCompressor{level: -1}, scratch))

	msgSet, _ := decodeProduceRequestMessageSet(t, enc.raw())

	dec := newRealDecoder(msgSet)
	_, err := dec.getInt64() // offset
	require.NoError(t, err)
	recordSize, err := dec.getInt32()
	require.NoError(t, err)
	wantCRC, err := dec.getInt32()
	require.NoError(t, err)

	// Everything from magic through the end of the record participates in
	// the CRC, including the value_len field - this is the part that used
	// to be silently excluded when value_len was a pushed/back-patched
	// field instead of going through the normal write path.
	recordBody, err := dec.getRawBytes(int(recordSize) - 4)
	require.NoError(t, err)
	require.Equal(t, int32(crc32.ChecksumIEEE(recordBody)), wantCRC)

	bodyDec := newRealDecoder(recordBody)
	_, err = bodyDec.getInt8() // magic
	require.NoError(t, err)
	attrs, err := bodyDec.getInt8()
	require.NoError(t, err)
	require.EqualValues(t, attrGZIP, attrs)
	_, err = bodyDec.getBytes() // key, always nil
	require.NoError(t, err)
	compressedValue, err := bodyDec.getBytes()
	require.NoError(t, err)

	gr, err := gzip.NewReader(bytes.NewReader(compressedValue))
	require.NoError(t, err)
	var decompressed bytes.Buffer
	_, err = decompressed.ReadFrom(gr)
	require.NoError(t, err)
	require.Equal(t, payload, decompressed.Bytes())
}

func TestBuildProduceRequestSnappyRoundTrips(t *testing.T) {
	t.Parallel()

	payload := []byte("a message set compressed with snappy instead of gzip")
	scratch := make([]byte, 4096)
	enc := newRealEncoder(make([]byte, 4096))
	require.NoError(t, buildProduceRequest(enc, "client", 1, 1, 1000, "orders", 0, payload, snappyCompressor{}, scratch))

	msgSet, _ := decodeProduceRequestMessageSet(t, enc.raw())

	dec := newRealDecoder(msgSet)
	_, err := dec.getInt64() // offset
	require.NoError(t, err)
	recordSize, err := dec.getInt32()
	require.NoError(t, err)
	wantCRC, err := dec.getInt32()
	require.NoError(t, err)
	recordBody, err := dec.getRawBytes(int(recordSize) - 4)
	require.NoError(t, err)
	require.Equal(t, int32(crc32.ChecksumIEEE(recordBody)), wantCRC)

	bodyDec := newRealDecoder(recordBody)
	_, err = bodyDec.getInt8() // magic
	require.NoError(t, err)
	attrs, err := bodyDec.getInt8()
	require.NoError(t, err)
	require.EqualValues(t, attrSnappy, attrs)
	_, err = bodyDec.getBytes() // key, always nil
	require.NoError(t, err)
	compressedValue, err := bodyDec.getBytes()
	require.NoError(t, err)

	decompressed, err := snappy.Decode(nil, compressedValue)
	require.NoError(t, err)
	require.Equal(t, payload, decompressed)
}
