package lowka

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
)

// pushEncoder is a field whose value is not known until everything after it
// has been written. push() opens such a field, reserving space and
// recording whatever the field needs to remember (a start offset, a running
// checksum); pop() is called once the encoder's cursor has reached the end
// of the field's scope, and writes the final value back into the reserved
// space.
//
// Implementations never share mutable state with one another: a stack of
// pushEncoders is popped in strict LIFO order, which is what lets an outer
// (compressed message) CRC and an inner (per-record) CRC be computed over
// overlapping byte ranges without interfering (§9, "dual CRC instances").
type pushEncoder interface {
	// reserveLength returns the number of placeholder bytes this field
	// writes when it is pushed.
	reserveLength() int

	// run is called with every slice passed through the encoder's write()
	// after this field was pushed (but before it is popped), so that e.g. a
	// crc32Field can keep a running checksum without buffering the bytes
	// itself. The placeholder bytes reserved by a nested push() do not go
	// through write() and are not passed to run.
	run(b []byte)

	// fill is called on pop with the encoder's backing slice and the start
	// and current offsets of this field's scope; it writes the final value
	// into buf[start:start+reserveLength()].
	fill(buf []byte, start, end int) error
}

// lengthField back-patches a 4-byte big-endian length once popped, equal to
// the number of bytes written between the end of the length field and pop
// time (i.e. it does not include its own 4 bytes).
type lengthField struct{}

func (*lengthField) reserveLength() int     { return 4 }
func (*lengthField) run([]byte)             {}
func (*lengthField) fill(buf []byte, start, end int) error {
	binary.BigEndian.PutUint32(buf[start:], uint32(end-start-4))
	return nil
}

// crc32Field back-patches a 4-byte big-endian IEEE CRC-32 computed over
// every byte written after it until pop. Each instance owns an independent
// hash.Hash32, so nested/overlapping crc32Fields never interleave state.
type crc32Field struct {
	crc hash.Hash32
}

func (f *crc32Field) reserveLength() int { return 4 }

func (f *crc32Field) run(b []byte) {
	if f.crc == nil {
		f.crc = crc32.NewIEEE()
	}
	f.crc.Write(b)
}

func (f *crc32Field) fill(buf []byte, start, end int) error {
	var sum uint32
	if f.crc != nil {
		sum = f.crc.Sum32()
	}
	binary.BigEndian.PutUint32(buf[start:], sum)
	return nil
}

// realEncoder is a fixed-capacity byte-cursor writer over a caller-owned
// buffer. It never allocates on the append path: Put* calls panic on
// overflow rather than growing, because the send buffer's capacity is a
// hard configuration limit (§3, "Send Buffer"), not a soft one.
type realEncoder struct {
	buf    []byte
	offset int
	stack  []pushStackEntry
}

type pushStackEntry struct {
	enc   pushEncoder
	start int
}

// newRealEncoder wraps buf for writing from offset 0.
func newRealEncoder(buf []byte) *realEncoder {
	return &realEncoder{buf: buf}
}

// offsetPos returns the encoder's current cursor position.
func (e *realEncoder) offsetPos() int { return e.offset }

// remaining reports how many bytes are left before the backing buffer is
// exhausted.
func (e *realEncoder) remaining() int { return len(e.buf) - e.offset }

func (e *realEncoder) raw() []byte { return e.buf[:e.offset] }

func (e *realEncoder) write(b []byte) {
	n := copy(e.buf[e.offset:], b)
	if n < len(b) {
		panic(errOverflow{need: len(b), have: e.remaining()})
	}
	for _, frame := range e.stack {
		frame.enc.run(b)
	}
	e.offset += len(b)
}

type errOverflow struct {
	need, have int
}

func (e errOverflow) Error() string {
	return "lowka: send buffer overflow"
}

func (e *realEncoder) putInt8(v int8) { e.write([]byte{byte(v)}) }

func (e *realEncoder) putInt16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	e.write(b[:])
}

func (e *realEncoder) putInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.write(b[:])
}

func (e *realEncoder) putInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.write(b[:])
}

func (e *realEncoder) putRawBytes(b []byte) {
	e.write(b)
}

// putBytes writes a 4-byte length prefix (or -1 for nil) followed by the
// bytes themselves, matching the key/value encoding in §4.4 and §4.7.
func (e *realEncoder) putBytes(b []byte) {
	if b == nil {
		e.putInt32(-1)
		return
	}
	e.putInt32(int32(len(b)))
	e.write(b)
}

// putString writes a 2-byte length prefix followed by the UTF-8 bytes, used
// for client_id and topic name fields.
func (e *realEncoder) putString(s string) {
	e.putInt16(int16(len(s)))
	e.write([]byte(s))
}

// push opens a back-patchable field: it reserves reserveLength() zero bytes
// at the current offset and remembers the field so that bytes written from
// here on are also fed to it via run().
func (e *realEncoder) push(pe pushEncoder) {
	start := e.offset
	reserved := pe.reserveLength()
	if e.remaining() < reserved {
		panic(errOverflow{need: reserved, have: e.remaining()})
	}
	for i := 0; i < reserved; i++ {
		e.buf[e.offset+i] = 0
	}
	e.offset += reserved
	e.stack = append(e.stack, pushStackEntry{enc: pe, start: start})
}

// pop closes the most recently pushed field and back-patches its value
// using everything written since push(). Fields are always popped in LIFO
// order; calling pop with no pushed field is a programming error in this
// package and panics rather than silently corrupting the wire format.
func (e *realEncoder) pop() error {
	if len(e.stack) == 0 {
		panic("lowka: pop called with no pushed field")
	}
	top := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return top.enc.fill(e.buf, top.start, e.offset)
}
