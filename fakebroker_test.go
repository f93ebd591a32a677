package lowka

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeBroker is a minimal in-process Kafka 0.8 broker stub: it answers
// TopicMetadata requests by pointing every partition's leader back at
// itself, and answers Produce requests with a configurable error code,
// recording every message-set it receives for assertions. It exists only
// to drive the sender's request/response and retry paths end-to-end
// without a real cluster.
type fakeBroker struct {
	ln            net.Listener
	addr          string
	numPartitions int32

	mu           sync.Mutex
	receivedSets [][]byte

	errorCode     int16
	dropConnCount int32 // close the connection instead of responding, this many times total
	droppedSoFar  int32
}

// setDropConnCount is the only writer of dropConnCount after construction;
// tests must call it before issuing any request that could race the read in
// maybeDropConn.
func (b *fakeBroker) setDropConnCount(n int32) {
	atomic.StoreInt32(&b.dropConnCount, n)
}

func newFakeBroker(t *testing.T, numPartitions int32) *fakeBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fake broker: listen: %v", err)
	}
	b := &fakeBroker{ln: ln, addr: ln.Addr().String(), numPartitions: numPartitions}
	go b.serve()
	t.Cleanup(func() { _ = b.ln.Close() })
	return b
}

func (b *fakeBroker) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.handleConn(conn)
	}
}

func (b *fakeBroker) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		var sizeBuf [4]byte
		if _, err := readFullRaw(conn, sizeBuf[:]); err != nil {
			return
		}
		size := int32(binary.BigEndian.Uint32(sizeBuf[:]))
		if size <= 0 {
			return
		}
		body := make([]byte, size)
		if _, err := readFullRaw(conn, body); err != nil {
			return
		}

		dec := newRealDecoder(body)
		apiKey, _ := dec.getInt16()
		_, _ = dec.getInt16() // api version
		correlationID, _ := dec.getInt32()
		_, _ = dec.getString() // client id

		switch apiKey {
		case apiKeyTopicMetadata:
			b.respondMetadata(conn, dec, correlationID)
		case apiKeyProduce:
			if b.maybeDropConn() {
				return
			}
			b.respondProduce(conn, dec, correlationID)
		default:
			return
		}
	}
}

func (b *fakeBroker) maybeDropConn() bool {
	if atomic.LoadInt32(&b.droppedSoFar) >= atomic.LoadInt32(&b.dropConnCount) {
		return false
	}
	atomic.AddInt32(&b.droppedSoFar, 1)
	return true
}

func (b *fakeBroker) respondMetadata(conn net.Conn, dec *realDecoder, correlationID int32) {
	topicCount, _ := dec.getInt32()
	topics := make([]string, 0, topicCount)
	for i := int32(0); i < topicCount; i++ {
		topic, _ := dec.getString()
		topics = append(topics, topic)
	}

	host, port := splitHostPort(b.addr)

	buf := make([]byte, 4096)
	enc := newRealEncoder(buf)
	enc.putInt32(correlationID)

	enc.putInt32(1) // broker count
	enc.putInt32(0) // node id
	enc.putString(host)
	enc.putInt32(port)

	enc.putInt32(int32(len(topics)))
	for _, topic := range topics {
		enc.putInt16(0) // topic error code
		enc.putString(topic)
		enc.putInt32(b.numPartitions)
		for p := int32(0); p < b.numPartitions; p++ {
			enc.putInt16(0) // partition error code
			enc.putInt32(p)
			enc.putInt32(0) // leader id
			enc.putInt32(0) // replicas length
			enc.putInt32(0) // isr length
		}
	}

	writeSizePrefixed(conn, enc.raw())
}

func (b *fakeBroker) respondProduce(conn net.Conn, dec *realDecoder, correlationID int32) {
	acks, _ := dec.getInt16()
	_, _ = dec.getInt32() // timeout ms
	_, _ = dec.getInt32() // topic count
	topic, _ := dec.getString()
	_, _ = dec.getInt32() // partition count
	partition, _ := dec.getInt32()

	msgSet, _ := dec.getRawBytes(dec.remaining())
	// msgSet is prefixed with its own 4-byte message_set_size; strip it.
	if len(msgSet) >= 4 {
		msgSet = msgSet[4:]
	}

	b.mu.Lock()
	b.receivedSets = append(b.receivedSets, append([]byte(nil), msgSet...))
	b.mu.Unlock()

	if acks == 0 {
		return
	}

	buf := make([]byte, 512)
	enc := newRealEncoder(buf)
	enc.putInt32(correlationID)
	enc.putInt32(1) // topic count
	enc.putString(topic)
	enc.putInt32(1) // partition count
	enc.putInt32(partition)
	enc.putInt16(b.errorCode)
	enc.putInt64(0) // offset

	writeSizePrefixed(conn, enc.raw())
}

func (b *fakeBroker) messageSetCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.receivedSets)
}

func readFullRaw(conn net.Conn, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := conn.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeSizePrefixed(conn net.Conn, body []byte) {
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(body)))
	_, _ = conn.Write(sizeBuf[:])
	_, _ = conn.Write(body)
}

func splitHostPort(addr string) (string, int32) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	var port int32
	for _, c := range portStr {
		port = port*10 + int32(c-'0')
	}
	return host, port
}
