package lowka

import (
	"github.com/pkg/errors"
)

// responseBuffer is the C5 "Response Buffer": per-instance, growable,
// starts at 4 bytes (just the size prefix) and grows to fit the largest
// response observed. It never shrinks, trading a little steady-state
// memory for zero reallocation once the working set has been seen once.
type responseBuffer struct {
	buf []byte
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{buf: make([]byte, 4)}
}

// sizeFrame returns the 4-byte size-prefix region.
func (r *responseBuffer) sizeFrame() []byte { return r.buf[:4] }

// body returns (growing the backing array if necessary) a slice of length n
// to read the response body into.
func (r *responseBuffer) body(n int) []byte {
	if cap(r.buf) < n {
		grown := make([]byte, n)
		copy(grown, r.buf)
		r.buf = grown
	} else if len(r.buf) < n {
		r.buf = r.buf[:n]
	}
	return r.buf[:n]
}

// produceResponse is the decoded form of §4.4's response layout.
type produceResponse struct {
	correlationID int32
	errorCode     int16
	offset        int64
}

// readProduceResponse reads and validates one produce response from conn,
// per §4.4 / §4.8c. It reports ErrProtocolDesync on correlation mismatch
// and BrokerError on a non-zero error code. It always reads exactly the
// declared response size off the wire, so any trailing fields this decoder
// doesn't model are simply left unread inside that slice, not on the socket.
func readProduceResponse(conn *connection, respBuf *responseBuffer, wantCorrelationID int32) (*produceResponse, error) {
	if err := conn.readFull(respBuf.sizeFrame()); err != nil {
		return nil, err
	}

	size, err := newRealDecoder(respBuf.sizeFrame()).getInt32()
	if err != nil {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding response size prefix")
	}
	if size < 0 {
		return nil, errors.Wrap(ErrProtocolDesync, "negative response size")
	}

	body := respBuf.body(int(size))
	if err := conn.readFull(body); err != nil {
		return nil, err
	}

	dec := newRealDecoder(body)

	correlationID, err := dec.getInt32()
	if err != nil {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding correlation id")
	}
	if correlationID != wantCorrelationID {
		return nil, errors.Wrapf(ErrProtocolDesync, "got correlation id %d, want %d", correlationID, wantCorrelationID)
	}

	topicCount, err := dec.getInt32()
	if err != nil || topicCount < 1 {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding topic count")
	}
	if _, err := dec.getString(); err != nil { // topic name, unused: this producer is bound to a single topic
		return nil, errors.Wrap(ErrProtocolDesync, "decoding topic name")
	}

	partitionCount, err := dec.getInt32()
	if err != nil || partitionCount < 1 {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding partition count")
	}
	if _, err := dec.getInt32(); err != nil { // partition id
		return nil, errors.Wrap(ErrProtocolDesync, "decoding partition id")
	}

	errorCode, err := dec.getInt16()
	if err != nil {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding error code")
	}
	offset, err := dec.getInt64()
	if err != nil {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding log offset")
	}

	resp := &produceResponse{correlationID: correlationID, errorCode: errorCode, offset: offset}

	if errorCode != 0 {
		return resp, BrokerError{Code: errorCode}
	}
	return resp, nil
}
