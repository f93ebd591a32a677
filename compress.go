package lowka

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Attribute bits for the Kafka 0.8 message "attributes" byte (§4.4, §4.7).
const (
	attrNoCompression = 0
	attrGZIP          = 1
	attrSnappy        = 2
)

// Compressor is the pluggable codec interface described in §4.2. Compress
// writes the compressed form of src into dst and returns the number of
// bytes written, or ErrCompressOverflow if dst is too small.
type Compressor interface {
	AttributeByte() byte
	Compress(dst, src []byte) (n int, err error)
}

// newCompressor resolves a CompressionCodec to a concrete Compressor, or
// ErrUnknownCompressionCodec for anything else. Called once at construction
// time (§7: UnknownCompressionCodec is fatal at construction).
func newCompressor(codec CompressionCodec, level int) (Compressor, error) {
	switch codec {
	case "", CompressionNone:
		return noneCompressor{}, nil
	case CompressionGZIP:
		return gzipCompressor{level: level}, nil
	case CompressionSnappy:
		return snappyCompressor{}, nil
	default:
		return nil, ErrUnknownCompressionCodec
	}
}

// noneCompressor is used when Producer.Compression == CompressionNone; it
// exists only as the zero-value Compressor - callers take the "uncompressed
// path" in §4.4 when this is returned and never call Compress on it.
type noneCompressor struct{}

func (noneCompressor) AttributeByte() byte { return attrNoCompression }

func (noneCompressor) Compress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, ErrCompressOverflow
	}
	return copy(dst, src), nil
}

// gzipCompressor is backed by klauspost/compress/gzip, a drop-in faster
// implementation of the standard library's gzip codec already present in
// this domain's dependency graph.
type gzipCompressor struct {
	level int
}

func (gzipCompressor) AttributeByte() byte { return attrGZIP }

func (c gzipCompressor) Compress(dst, src []byte) (int, error) {
	level := c.level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(src); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	if buf.Len() > len(dst) {
		return 0, ErrCompressOverflow
	}
	return copy(dst, buf.Bytes()), nil
}

// snappyCompressor is backed by golang/snappy's block format (not the
// xerial-framed variant some Java clients expect on the wire - block
// format is sufficient here because the compressed bytes are only ever
// decoded by a consumer running the matching decompressor).
type snappyCompressor struct{}

func (snappyCompressor) AttributeByte() byte { return attrSnappy }

func (snappyCompressor) Compress(dst, src []byte) (int, error) {
	if snappy.MaxEncodedLen(len(src)) > len(dst) {
		return 0, ErrCompressOverflow
	}
	out := snappy.Encode(dst, src)
	return len(out), nil
}
