package lowka

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// realDecoder is a cursor reader over a caller-owned byte slice, the
// decode-side counterpart to realEncoder. It never copies: getBytes and
// getRawBytes return sub-slices of the original buffer.
type realDecoder struct {
	buf    []byte
	offset int
}

func newRealDecoder(buf []byte) *realDecoder {
	return &realDecoder{buf: buf}
}

var errDecodeUnderflow = errors.New("lowka: not enough bytes to decode field")

func (d *realDecoder) remaining() int { return len(d.buf) - d.offset }

func (d *realDecoder) getInt8() (int8, error) {
	if d.remaining() < 1 {
		return 0, errDecodeUnderflow
	}
	v := int8(d.buf[d.offset])
	d.offset++
	return v, nil
}

func (d *realDecoder) getInt16() (int16, error) {
	if d.remaining() < 2 {
		return 0, errDecodeUnderflow
	}
	v := int16(binary.BigEndian.Uint16(d.buf[d.offset:]))
	d.offset += 2
	return v, nil
}

func (d *realDecoder) getInt32() (int32, error) {
	if d.remaining() < 4 {
		return 0, errDecodeUnderflow
	}
	v := int32(binary.BigEndian.Uint32(d.buf[d.offset:]))
	d.offset += 4
	return v, nil
}

func (d *realDecoder) getInt64() (int64, error) {
	if d.remaining() < 8 {
		return 0, errDecodeUnderflow
	}
	v := int64(binary.BigEndian.Uint64(d.buf[d.offset:]))
	d.offset += 8
	return v, nil
}

func (d *realDecoder) getRawBytes(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, errDecodeUnderflow
	}
	b := d.buf[d.offset : d.offset+n]
	d.offset += n
	return b, nil
}

func (d *realDecoder) getString() (string, error) {
	n, err := d.getInt16()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	b, err := d.getRawBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *realDecoder) getBytes() ([]byte, error) {
	n, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	return d.getRawBytes(int(n))
}
