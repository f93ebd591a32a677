package lowka

// recordOverhead is the fixed per-record framing cost named in §4.6 step 4:
// 8 (offset) + 4 (size) + 4 (crc) + 1 (magic) + 1 (attrs) + 4 (key len) +
// 4 (value len) = 26, excluding the variable-length key and value bytes.
const recordOverhead = 26

// messageSetBuffer is the C2 component: a fixed-size byte region with an
// append cursor and a batch counter. It is exclusively owned at any instant
// by one of {pool, ingest, ready-queue, sender} (§3, Ownership summary).
type messageSetBuffer struct {
	data   []byte
	cursor int
	count  int
}

func newMessageSetBuffer(capacity int) *messageSetBuffer {
	return &messageSetBuffer{data: make([]byte, capacity)}
}

// remaining reports free bytes after the append cursor.
func (b *messageSetBuffer) remaining() int {
	return len(b.data) - b.cursor
}

// reset returns the buffer to its empty state; called by the pool on
// release (§4.1).
func (b *messageSetBuffer) reset() {
	b.cursor = 0
	b.count = 0
}

func (b *messageSetBuffer) empty() bool { return b.count == 0 }

// bytes returns the framed message-set written so far.
func (b *messageSetBuffer) bytes() []byte {
	return b.data[:b.cursor]
}

// recordSize returns the framed size of a record carrying the given key and
// value lengths, per §4.6 step 4.
func recordSize(keyLen, valueLen int) int {
	return recordOverhead + keyLen + valueLen
}

// appendRecord frames one record (§4.7) into the buffer starting at the
// current cursor and advances the cursor and batch counter. The caller
// (ingest path) is responsible for having already verified the record fits
// via remaining() >= recordSize(len(key), len(value)).
func (b *messageSetBuffer) appendRecord(key, value []byte) {
	size := recordSize(len(key), len(value))
	enc := newRealEncoder(b.data[b.cursor : b.cursor+size])

	enc.putInt64(0) // offset, always 0 on produce
	enc.push(&lengthField{})
	enc.push(&crc32Field{})
	enc.putInt8(0) // magic
	enc.putInt8(attrNoCompression)
	enc.putBytes(key)
	enc.putBytes(value)
	_ = enc.pop() // crc32Field
	_ = enc.pop() // lengthField

	b.cursor += size
	b.count++
}
